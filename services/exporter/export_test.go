package exporter

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"chatarchive/lib/telemetry"
	"chatarchive/services/archive"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func ptr[T any](v T) *T {
	return &v
}

func testSnapshot() archive.Snapshot {
	return archive.Snapshot{
		Servers: []archive.Server{{ServerID: "s1", ServerName: "Gophers"}},
		Channels: []archive.Channel{
			{ChannelID: "c1", ServerID: "s1", ChannelName: "general"},
			{ChannelID: "c2", ChannelName: "no server"},
		},
		Users: []archive.User{
			{UserID: "u1", Username: "alice"},
			{UserID: "u2", Username: "bob"},
		},
		Messages: []archive.Message{
			{
				MessageID: "m1",
				ChannelID: "c1",
				UserID:    ptr("u1"),
				Timestamp: "2024-05-01T10:00:00.000Z",
				Content:   "hello",
				Reactions: []archive.Reaction{{Emoji: "👍", Count: 2}},
			},
			{
				MessageID:      "m2",
				ChannelID:      "c1",
				UserID:         ptr("u9"),
				Timestamp:      "garbage",
				Content:        "  ",
				HasAttachments: true,
			},
			{
				MessageID: "m3",
				ChannelID: "c404",
				UserID:    ptr("u2"),
				Timestamp: "2024-05-01T11:00:00.000Z",
				Content:   "orphan",
			},
		},
	}
}

func exportToFile(t *testing.T, snapshot archive.Snapshot) (Result, string) {
	exporter := NewExporter(Options{TempDir: t.TempDir()})
	result, err := exporter.Export(context.Background(), snapshot)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "export.db")
	require.NoError(t, result.WriteFile(path))
	return result, path
}

func TestExport(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:exporter")
	defer cleanup()

	result, path := exportToFile(t, testSnapshot())
	require.Equal(t, 1, result.Channels)
	require.Equal(t, 2, result.Users)
	require.Equal(t, 2, result.Messages)
	// the channel without a server and the orphaned message
	require.Equal(t, 2, result.Skipped)
	require.NotEmpty(t, result.Blob)

	database, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer database.Close()

	{
		var id int64
		var name, url string
		err := database.QueryRow("select id, name, url from channels").Scan(&id, &name, &url)
		require.NoError(t, err)
		require.Equal(t, "general", name)
		require.Equal(t, "https://discord.com/channels/s1/c1", url)

		var channelId int64
		err = database.QueryRow("select channel_id from messages where message_id = 'm1'").Scan(&channelId)
		require.NoError(t, err)
		require.Equal(t, id, channelId)
	}
	{
		var userId, timestamp sql.NullString
		var attachments, reactions string
		err := database.QueryRow(
			"select user_id, timestamp, attachments, reactions from messages where message_id = 'm1'",
		).Scan(&userId, &timestamp, &attachments, &reactions)
		require.NoError(t, err)
		require.Equal(t, "u1", userId.String)
		require.Equal(t, "2024-05-01T10:00:00.000Z", timestamp.String)
		require.Equal(t, "false", attachments)
		require.Equal(t, `[{"emoji":"👍","count":2}]`, reactions)

		err = database.QueryRow(
			"select user_id, timestamp, attachments, reactions from messages where message_id = 'm2'",
		).Scan(&userId, &timestamp, &attachments, &reactions)
		require.NoError(t, err)
		require.False(t, userId.Valid)
		require.False(t, timestamp.Valid)
		require.Equal(t, "true", attachments)
		require.Equal(t, "[]", reactions)
	}
	{
		var count int
		err := database.QueryRow("select count(*) from messages where message_id = 'm3'").Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 0, count)
	}
}

func TestExportEmpty(t *testing.T) {
	tempDir := t.TempDir()
	exporter := NewExporter(Options{TempDir: tempDir})

	_, err := exporter.Export(context.Background(), archive.Snapshot{
		Channels: []archive.Channel{{ChannelID: "c1", ServerID: "s1"}},
	})
	require.ErrorIs(t, err, ErrNoData)

	snapshot := testSnapshot()
	snapshot.Messages = snapshot.Messages[2:]
	_, err = exporter.Export(context.Background(), snapshot)
	require.ErrorIs(t, err, ErrNothingValid)

	// nothing is left behind
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExportHost(t *testing.T) {
	exporter := NewExporter(Options{Host: "https://chat.example.com/", TempDir: t.TempDir()})
	result, err := exporter.Export(context.Background(), testSnapshot())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "export.db")
	require.NoError(t, result.WriteFile(path))
	database, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer database.Close()

	var url string
	require.NoError(t, database.QueryRow("select url from channels").Scan(&url))
	require.Equal(t, "https://chat.example.com/channels/s1/c1", url)
}

func TestRenderMarkdown(t *testing.T) {
	_, path := exportToFile(t, testSnapshot())

	var out bytes.Buffer
	err := RenderMarkdown(context.Background(), path, &out, MarkdownOptions{Location: time.UTC})
	require.NoError(t, err)

	expected := "# Discord Messages\n\n" +
		"**Total messages:** 2\n\n" +
		"---\n\n" +
		"## #general\n\n" +
		"*2 messages in this channel*\n\n" +
		"**Unknown** **\n\n" +
		"*[No content]*\n\n" +
		"---\n\n" +
		"**alice** *2024-05-01 10:00:00 UTC*\n\n" +
		"hello\n\n" +
		"---\n\n"
	require.Equal(t, expected, out.String())

	err = RenderMarkdown(context.Background(), filepath.Join(t.TempDir(), "missing.db"), &out, MarkdownOptions{})
	require.Error(t, err)
}

func TestFormatMarkdown(t *testing.T) {
	require.Equal(t, "# Discord Messages\n\nNo messages found.\n", FormatMarkdown(nil, "Discord Messages"))

	out := FormatMarkdown([]Record{
		{ChannelName: "zeta", Username: "a", Timestamp: "t1", Content: "one"},
		{ChannelName: "alpha", Username: "b", Timestamp: "t2", Content: "two\nlines "},
	}, "Export")
	require.Less(t, bytes.Index([]byte(out), []byte("## #alpha")), bytes.Index([]byte(out), []byte("## #zeta")))
	require.Contains(t, out, "two\nlines\n\n")
}

func TestSplitMarkdown(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Messages = append(snapshot.Messages, archive.Message{
		MessageID: "m4",
		ChannelID: "c1",
		UserID:    ptr("u2"),
		Timestamp: "2024-06-02T08:00:00.000Z",
		Content:   "june",
	})
	_, path := exportToFile(t, snapshot)

	dir := filepath.Join(t.TempDir(), "split")
	paths, err := SplitMarkdown(context.Background(), path, dir, MarkdownOptions{Location: time.UTC})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "general_2024-05.md"),
		filepath.Join(dir, "general_2024-06.md"),
		filepath.Join(dir, "general_unknown.md"),
	}, paths)

	june, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	require.Contains(t, string(june), "# Discord Messages: #general (2024-06)")
	require.Contains(t, string(june), "**bob** *2024-06-02 08:00:00 UTC*")
}

func TestLocalizeTimestamp(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cases := map[string]string{
		"":                          "",
		"2025-12-16T10:30:00Z":      "2025-12-16 11:30:00 CET",
		"2025-12-16T10:30:00+01:00": "2025-12-16 10:30:00 CET",
		"2025-12-16T10:30:00":       "2025-12-16 11:30:00 CET",
		"2025-12-16 10:30:00":       "2025-12-16 11:30:00 CET",
		"2025-12-16":                "2025-12-16",
		"yesterday":                 "yesterday",
	}
	for raw, expected := range cases {
		require.Equal(t, expected, LocalizeTimestamp(raw, berlin), raw)
	}
}
