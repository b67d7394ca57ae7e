package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatarchive/services/archive"
	"chatarchive/services/exporter/db"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "modernc.org/sqlite"
)

var (
	ErrNoData       = errors.New("there are no messages to export")
	ErrNothingValid = errors.New("no message could be exported")
)

const DefaultHost = "https://discord.com"

type Options struct {
	// Host prefixes the channel urls, defaults to DefaultHost.
	Host string
	// TempDir holds the artifact while it is built, defaults to
	// os.TempDir().
	TempDir string
}

type Exporter struct {
	opts Options
}

func NewExporter(opts Options) Exporter {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	opts.Host = strings.TrimSuffix(opts.Host, "/")
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return Exporter{opts: opts}
}

type Result struct {
	// Blob is the content of a self-contained sqlite database.
	Blob     []byte
	Channels int
	Users    int
	Messages int
	// Skipped counts the records that were left out.
	Skipped int
}

func (r Result) WriteFile(path string) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	return os.WriteFile(path, r.Blob, 0644)
}

func ChannelURL(host, serverId, channelId string) string {
	return fmt.Sprintf("%s/channels/%s/%s", strings.TrimSuffix(host, "/"), serverId, channelId)
}

// Export re-normalises snapshot into a portable relational database:
// channels get surrogate ids and their messages point to them. Records that
// cannot be represented are logged and skipped.
func (e Exporter) Export(ctx context.Context, snapshot archive.Snapshot) (Result, error) {
	ctx, span := tracer.Start(ctx, "exporter:Export")
	defer span.End()

	if len(snapshot.Messages) == 0 {
		return Result{}, ErrNoData
	}

	suffix, err := random.String(8)
	if err != nil {
		return Result{}, err
	}
	path := filepath.Join(e.opts.TempDir, fmt.Sprintf("chatarchive-export-%s.db", suffix))
	defer os.Remove(path)

	result, err := e.build(ctx, path, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build export")
		return Result{}, err
	}

	result.Blob, err = os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("channels", result.Channels),
		attribute.Int("users", result.Users),
		attribute.Int("messages", result.Messages),
		attribute.Int("skipped", result.Skipped),
	)
	exportedRows.Add(ctx, int64(result.Messages))
	slog.InfoContext(
		ctx, "export finished",
		"channels", result.Channels,
		"users", result.Users,
		"messages", result.Messages,
		"skipped", result.Skipped,
		"bytes", len(result.Blob),
	)
	return result, nil
}

func (e Exporter) build(ctx context.Context, path string, snapshot archive.Snapshot) (Result, error) {
	database, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	if err != nil {
		return Result{}, err
	}
	defer database.Close()
	database.SetMaxOpenConns(1)

	_, err = database.ExecContext(ctx, db.Schema)
	if err != nil {
		return Result{}, fmt.Errorf("apply export schema: %w", err)
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	txqry := db.New(database).WithTx(tx)

	var result Result

	users := map[string]struct{}{}
	for _, user := range snapshot.Users {
		if user.UserID == "" {
			slog.WarnContext(ctx, "skipping user without id", "username", user.Username)
			result.Skipped++
			continue
		}
		err := txqry.InsertUser(ctx, db.InsertUserParams{
			UserID:   user.UserID,
			Username: user.Username,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to export user", "user_id", user.UserID, "err", err)
			result.Skipped++
			continue
		}
		if _, ok := users[user.UserID]; !ok {
			users[user.UserID] = struct{}{}
			result.Users++
		}
	}

	channels := map[string]int64{}
	for _, channel := range snapshot.Channels {
		if channel.ChannelID == "" || channel.ServerID == "" {
			slog.WarnContext(ctx, "skipping channel without ids", "channel_id", channel.ChannelID, "server_id", channel.ServerID)
			result.Skipped++
			continue
		}
		url := ChannelURL(e.opts.Host, channel.ServerID, channel.ChannelID)
		name := channel.ChannelName
		if name == "" {
			name = channel.ChannelID
		}
		err := txqry.InsertChannel(ctx, db.InsertChannelParams{Name: name, Url: url})
		if err != nil {
			slog.WarnContext(ctx, "failed to export channel", "channel_id", channel.ChannelID, "err", err)
			result.Skipped++
			continue
		}
		id, err := txqry.GetChannelIdByUrl(ctx, url)
		if err != nil {
			slog.WarnContext(ctx, "failed to look up exported channel", "channel_id", channel.ChannelID, "err", err)
			result.Skipped++
			continue
		}
		if _, ok := channels[channel.ChannelID]; !ok {
			result.Channels++
		}
		channels[channel.ChannelID] = id
	}

	for _, msg := range snapshot.Messages {
		params, err := messageParams(msg, channels, users)
		if err != nil {
			slog.WarnContext(ctx, "skipping message", "message_id", msg.MessageID, "err", err)
			result.Skipped++
			continue
		}
		err = txqry.InsertMessage(ctx, params)
		if err != nil {
			slog.WarnContext(ctx, "failed to export message", "message_id", msg.MessageID, "err", err)
			result.Skipped++
			continue
		}
		result.Messages++
	}

	if result.Messages == 0 {
		return Result{}, ErrNothingValid
	}
	err = tx.Commit()
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

var (
	errMalformed = errors.New("malformed message")
	errOrphan    = errors.New("channel was not exported")
)

func messageParams(msg archive.Message, channels map[string]int64, users map[string]struct{}) (db.InsertMessageParams, error) {
	if msg.MessageID == "" || msg.ChannelID == "" {
		return db.InsertMessageParams{}, errMalformed
	}
	channelId, ok := channels[msg.ChannelID]
	if !ok {
		return db.InsertMessageParams{}, fmt.Errorf("%w: '%s'", errOrphan, msg.ChannelID)
	}

	reactions := make([]archive.Reaction, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r.Emoji == "" || r.Count <= 0 {
			continue
		}
		reactions = append(reactions, r)
	}
	serialized, err := json.Marshal(reactions)
	if err != nil {
		return db.InsertMessageParams{}, err
	}

	params := db.InsertMessageParams{
		ChannelID:   channelId,
		MessageID:   msg.MessageID,
		Content:     msg.Content,
		Attachments: "false",
		Reactions:   string(serialized),
	}
	if msg.HasAttachments {
		params.Attachments = "true"
	}
	if msg.UserID != nil {
		if _, known := users[*msg.UserID]; known {
			params.UserID = sql.NullString{String: *msg.UserID, Valid: true}
		}
	}
	if _, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
		params.Timestamp = sql.NullString{String: msg.Timestamp, Valid: true}
	}
	return params, nil
}
