package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatarchive/services/archive/db"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// KeyedStore is the local archive the crawler writes to and the exporter
// reads from.
type KeyedStore interface {
	UpsertServer(ctx context.Context, server Server) error
	UpsertChannel(ctx context.Context, channel Channel) error
	UpsertUsers(ctx context.Context, users []User) (BatchResult, error)
	UpsertMessages(ctx context.Context, messages []Message) (BatchResult, error)

	GetServer(ctx context.Context, serverId string) (Server, error)
	GetChannel(ctx context.Context, channelId string) (Channel, error)
	GetUser(ctx context.Context, userId string) (User, error)
	GetMessage(ctx context.Context, messageId string) (Message, error)
	MessagesByChannel(ctx context.Context, channelId string, limit int) ([]Message, error)

	// MessageCount counts the messages of channelId, or of every channel
	// when it is empty.
	MessageCount(ctx context.Context, channelId string) (int, error)
	ChannelCount(ctx context.Context) (int, error)

	AllServers(ctx context.Context) ([]Server, error)
	AllChannels(ctx context.Context) ([]Channel, error)
	AllUsers(ctx context.Context) ([]User, error)
	AllMessages(ctx context.Context, limit int) ([]Message, error)
	Snapshot(ctx context.Context, limit int) (Snapshot, error)

	Clear(ctx context.Context) error
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

var _ KeyedStore = Store{}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

// Open opens the database described by config and makes sure the schema
// exists.
func Open(ctx context.Context, config Config) (Store, error) {
	database, err := config.OpenDB()
	if err != nil {
		return Store{}, err
	}
	_, err = database.ExecContext(ctx, db.Schema)
	if err != nil {
		database.Close()
		return Store{}, fmt.Errorf("apply schema: %w", err)
	}
	return NewStore(database), nil
}

func (s Store) Close() error {
	return s.db.Close()
}

func toLimit(limit int) int64 {
	if limit <= 0 {
		return db.NoLimit
	}
	return int64(limit)
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s '%s'", ErrNotFound, kind, id)
	}
	return err
}

func (s Store) UpsertServer(ctx context.Context, server Server) error {
	if server.ServerID == "" {
		return fmt.Errorf("%w: server without id", ErrInvalidRecord)
	}
	return s.qry.UpsertServer(ctx, db.UpsertServerParams{
		ServerID:   server.ServerID,
		ServerName: server.ServerName,
	})
}

// UpsertChannel merges channel into the stored record: empty fields keep
// the stored value and LastCrawledAt never moves backwards.
func (s Store) UpsertChannel(ctx context.Context, channel Channel) error {
	if channel.ChannelID == "" {
		return fmt.Errorf("%w: channel without id", ErrInvalidRecord)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	stored, err := txqry.GetChannel(ctx, channel.ChannelID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	stored.ChannelID = channel.ChannelID
	if channel.ServerID != "" {
		stored.ServerID = channel.ServerID
	}
	if channel.ChannelName != "" {
		stored.ChannelName = channel.ChannelName
	}
	if channel.LastCrawledAt != nil {
		crawled := channel.LastCrawledAt.UnixMilli()
		if !stored.LastCrawledAt.Valid || crawled > stored.LastCrawledAt.Int64 {
			stored.LastCrawledAt = sql.NullInt64{Int64: crawled, Valid: true}
		}
	}

	err = txqry.PutChannel(ctx, db.PutChannelParams{
		ChannelID:     stored.ChannelID,
		ServerID:      stored.ServerID,
		ChannelName:   stored.ChannelName,
		LastCrawledAt: stored.LastCrawledAt,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// batch writes every record inside one transaction. A failing record is
// recorded and skipped, the others are still written.
func (s Store) batch(ctx context.Context, kind string, count int, write func(txqry *db.Queries, i int) (string, error)) (BatchResult, error) {
	ctx, span := tracer.Start(ctx, "archive:batch")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind), attribute.Int("size", count))

	var result BatchResult
	if count == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	batchErr := &BatchError{}
	for i := 0; i < count; i++ {
		key, err := write(txqry, i)
		if err != nil {
			slog.WarnContext(ctx, "failed to write record", "kind", kind, "key", key, "err", err)
			batchErr.add(key, err)
			continue
		}
		result.Written++
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit batch")
		return BatchResult{Failed: count}, err
	}

	result.Failed = len(batchErr.Failures)
	kindAttr := metric.WithAttributes(attribute.String("kind", kind))
	writtenRecords.Add(ctx, int64(result.Written), kindAttr)
	if result.Failed > 0 {
		failedRecords.Add(ctx, int64(result.Failed), kindAttr)
		span.SetStatus(codes.Error, "partial batch failure")
	}
	return result, batchErr.errOrNil()
}

func (s Store) UpsertUsers(ctx context.Context, users []User) (BatchResult, error) {
	return s.batch(ctx, "user", len(users), func(txqry *db.Queries, i int) (string, error) {
		user := users[i]
		if user.UserID == "" {
			return fmt.Sprintf("#%d", i), fmt.Errorf("%w: user without id", ErrInvalidRecord)
		}
		return user.UserID, txqry.UpsertUser(ctx, db.UpsertUserParams{
			UserID:    user.UserID,
			Username:  user.Username,
			AvatarUrl: user.AvatarURL,
		})
	})
}

func (s Store) UpsertMessages(ctx context.Context, messages []Message) (BatchResult, error) {
	return s.batch(ctx, "message", len(messages), func(txqry *db.Queries, i int) (string, error) {
		msg := messages[i]
		if msg.MessageID == "" {
			return fmt.Sprintf("#%d", i), fmt.Errorf("%w: message without id", ErrInvalidRecord)
		}
		if msg.ChannelID == "" {
			return msg.MessageID, fmt.Errorf("%w: message without channel", ErrInvalidRecord)
		}
		params, err := messageParams(msg)
		if err != nil {
			return msg.MessageID, err
		}
		return msg.MessageID, txqry.UpsertMessage(ctx, params)
	})
}

func messageParams(msg Message) (db.UpsertMessageParams, error) {
	reactions := msg.Reactions
	if reactions == nil {
		reactions = []Reaction{}
	}
	serialized, err := json.Marshal(reactions)
	if err != nil {
		return db.UpsertMessageParams{}, err
	}
	var userId sql.NullString
	if msg.UserID != nil && *msg.UserID != "" {
		userId = sql.NullString{String: *msg.UserID, Valid: true}
	}
	return db.UpsertMessageParams{
		MessageID:      msg.MessageID,
		ChannelID:      msg.ChannelID,
		UserID:         userId,
		Timestamp:      msg.Timestamp,
		Content:        msg.Content,
		HasAttachments: msg.HasAttachments,
		Reactions:      string(serialized),
	}, nil
}

func (s Store) GetServer(ctx context.Context, serverId string) (Server, error) {
	row, err := s.qry.GetServer(ctx, serverId)
	if err != nil {
		return Server{}, notFound(err, "server", serverId)
	}
	return Server(row), nil
}

func (s Store) GetChannel(ctx context.Context, channelId string) (Channel, error) {
	row, err := s.qry.GetChannel(ctx, channelId)
	if err != nil {
		return Channel{}, notFound(err, "channel", channelId)
	}
	return channelFromRow(row), nil
}

func (s Store) GetUser(ctx context.Context, userId string) (User, error) {
	row, err := s.qry.GetUser(ctx, userId)
	if err != nil {
		return User{}, notFound(err, "user", userId)
	}
	return userFromRow(row), nil
}

func (s Store) GetMessage(ctx context.Context, messageId string) (Message, error) {
	row, err := s.qry.GetMessage(ctx, messageId)
	if err != nil {
		return Message{}, notFound(err, "message", messageId)
	}
	return messageFromRow(ctx, row), nil
}

// MessagesByChannel returns the messages of a channel oldest first, limit
// <= 0 returns all of them.
func (s Store) MessagesByChannel(ctx context.Context, channelId string, limit int) ([]Message, error) {
	rows, err := s.qry.ListMessagesByChannel(ctx, db.ListMessagesByChannelParams{
		ChannelID: channelId,
		Limit:     toLimit(limit),
	})
	if err != nil {
		return nil, err
	}
	return messagesFromRows(ctx, rows), nil
}

func (s Store) MessageCount(ctx context.Context, channelId string) (int, error) {
	var count int64
	var err error
	if channelId == "" {
		count, err = s.qry.CountMessages(ctx)
	} else {
		count, err = s.qry.CountMessagesInChannel(ctx, channelId)
	}
	return int(count), err
}

func (s Store) ChannelCount(ctx context.Context) (int, error) {
	count, err := s.qry.CountChannels(ctx)
	return int(count), err
}

func (s Store) AllServers(ctx context.Context) ([]Server, error) {
	return allServers(ctx, s.qry)
}

func (s Store) AllChannels(ctx context.Context) ([]Channel, error) {
	return allChannels(ctx, s.qry)
}

func (s Store) AllUsers(ctx context.Context) ([]User, error) {
	return allUsers(ctx, s.qry)
}

func (s Store) AllMessages(ctx context.Context, limit int) ([]Message, error) {
	return allMessages(ctx, s.qry, limit)
}

// Snapshot reads every table inside a single transaction.
func (s Store) Snapshot(ctx context.Context, limit int) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "archive:Snapshot")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	var snapshot Snapshot
	snapshot.Servers, err = allServers(ctx, txqry)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Channels, err = allChannels(ctx, txqry)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Users, err = allUsers(ctx, txqry)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Messages, err = allMessages(ctx, txqry, limit)
	if err != nil {
		return Snapshot{}, err
	}
	span.SetAttributes(attribute.Int("messages", len(snapshot.Messages)))
	return snapshot, nil
}

func (s Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	for _, del := range []func(context.Context) error{
		txqry.DeleteMessages,
		txqry.DeleteUsers,
		txqry.DeleteChannels,
		txqry.DeleteServers,
	} {
		err = del(ctx)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "archive cleared")
	return nil
}

func allServers(ctx context.Context, qry *db.Queries) ([]Server, error) {
	rows, err := qry.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Server, len(rows))
	for i, r := range rows {
		out[i] = Server(r)
	}
	return out, nil
}

func allChannels(ctx context.Context, qry *db.Queries) ([]Channel, error) {
	rows, err := qry.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Channel, len(rows))
	for i, r := range rows {
		out[i] = channelFromRow(r)
	}
	return out, nil
}

func allUsers(ctx context.Context, qry *db.Queries) ([]User, error) {
	rows, err := qry.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]User, len(rows))
	for i, r := range rows {
		out[i] = userFromRow(r)
	}
	return out, nil
}

func allMessages(ctx context.Context, qry *db.Queries, limit int) ([]Message, error) {
	rows, err := qry.ListMessages(ctx, toLimit(limit))
	if err != nil {
		return nil, err
	}
	return messagesFromRows(ctx, rows), nil
}

func channelFromRow(row db.Channel) Channel {
	channel := Channel{
		ChannelID:   row.ChannelID,
		ServerID:    row.ServerID,
		ChannelName: row.ChannelName,
	}
	if row.LastCrawledAt.Valid {
		t := time.UnixMilli(row.LastCrawledAt.Int64).UTC()
		channel.LastCrawledAt = &t
	}
	return channel
}

func userFromRow(row db.User) User {
	return User{
		UserID:    row.UserID,
		Username:  row.Username,
		AvatarURL: row.AvatarUrl,
	}
}

func messageFromRow(ctx context.Context, row db.Message) Message {
	msg := Message{
		MessageID:      row.MessageID,
		ChannelID:      row.ChannelID,
		Timestamp:      row.Timestamp,
		Content:        row.Content,
		HasAttachments: row.HasAttachments,
	}
	if row.UserID.Valid {
		userId := row.UserID.String
		msg.UserID = &userId
	}
	err := json.Unmarshal([]byte(row.Reactions), &msg.Reactions)
	if err != nil {
		slog.WarnContext(ctx, "failed to unmarshal reactions", "message_id", row.MessageID, "err", err)
	}
	return msg
}

func messagesFromRows(ctx context.Context, rows []db.Message) []Message {
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = messageFromRow(ctx, r)
	}
	return out
}
