package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatarchive/lib/testutil"
	"chatarchive/services/archive/db"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (Store, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "archive",
		DbSchema: db.Schema,
	})
	return NewStore(res.DB), cleanup
}

func ptr[T any](v T) *T {
	return &v
}

func TestUpsertChannel(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	crawled := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	{
		_, err := store.GetChannel(ctx, "c1")
		require.ErrorIs(t, err, ErrNotFound)
	}
	{
		err := store.UpsertChannel(ctx, Channel{ChannelID: "c1", ServerID: "s1", ChannelName: "general"})
		require.NoError(t, err)
		// partial record: nothing stored is lost
		err = store.UpsertChannel(ctx, Channel{ChannelID: "c1", LastCrawledAt: &crawled})
		require.NoError(t, err)

		channel, err := store.GetChannel(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "s1", channel.ServerID)
		require.Equal(t, "general", channel.ChannelName)
		require.NotNil(t, channel.LastCrawledAt)
		require.True(t, crawled.Equal(*channel.LastCrawledAt))
	}
	{
		// older stamps never move it back
		older := crawled.Add(-time.Hour)
		err := store.UpsertChannel(ctx, Channel{ChannelID: "c1", ChannelName: "general-2", LastCrawledAt: &older})
		require.NoError(t, err)

		channel, err := store.GetChannel(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "general-2", channel.ChannelName)
		require.True(t, crawled.Equal(*channel.LastCrawledAt))
	}
	{
		for i := 0; i < 3; i++ {
			err := store.UpsertChannel(ctx, Channel{ChannelID: "c1", ServerID: "s1"})
			require.NoError(t, err)
		}
		count, err := store.ChannelCount(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	}
	{
		err := store.UpsertChannel(ctx, Channel{ChannelName: "nameless"})
		require.ErrorIs(t, err, ErrInvalidRecord)
	}
}

func TestUpsertServer(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.UpsertServer(ctx, Server{ServerID: "s1", ServerName: "Gophers"}))
	require.NoError(t, store.UpsertServer(ctx, Server{ServerID: "s1"}))

	server, err := store.GetServer(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, Server{ServerID: "s1", ServerName: "Gophers"}, server)

	_, err = store.GetServer(ctx, "s2")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.UpsertServer(ctx, Server{}), ErrInvalidRecord)
}

func TestUpsertUsersPartialFailure(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	res, err := store.UpsertUsers(ctx, []User{
		{UserID: "u1", Username: "alice", AvatarURL: "https://cdn.example.com/avatars/u1/a.png"},
		{Username: "nobody"},
		{UserID: "u2", Username: "bob"},
	})
	require.Equal(t, BatchResult{Written: 2, Failed: 1}, res)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	require.Len(t, batchErr.Failures, 1)
	require.Equal(t, "#1", batchErr.Failures[0].Key)
	require.ErrorIs(t, err, ErrInvalidRecord)

	// an empty username does not erase the stored one
	res, err = store.UpsertUsers(ctx, []User{{UserID: "u1", AvatarURL: "https://cdn.example.com/avatars/u1/b.png"}})
	require.NoError(t, err)
	require.Equal(t, BatchResult{Written: 1}, res)

	users, err := store.AllUsers(ctx)
	require.NoError(t, err)
	expected := []User{
		{UserID: "u1", Username: "alice", AvatarURL: "https://cdn.example.com/avatars/u1/b.png"},
		{UserID: "u2", Username: "bob"},
	}
	if diff := cmp.Diff(expected, users); diff != "" {
		t.Fatal("unexpected users (-want +got)\n", diff)
	}

	res, err = store.UpsertUsers(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, BatchResult{}, res)
}

func TestMessages(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	res, err := store.UpsertMessages(ctx, []Message{
		{
			MessageID: "m2",
			ChannelID: "c1",
			UserID:    ptr("u1"),
			Timestamp: "2024-05-01T10:01:00.000Z",
			Content:   "second",
			Reactions: []Reaction{{Emoji: "👍", Count: 3}},
		},
		{
			MessageID:      "m1",
			ChannelID:      "c1",
			Timestamp:      "2024-05-01T10:00:00.000Z",
			Content:        "first",
			HasAttachments: true,
		},
		{
			MessageID: "m3",
			ChannelID: "c2",
			UserID:    ptr("u2"),
			Timestamp: "2024-05-01T09:00:00.000Z",
		},
		{MessageID: "m4"},
	})
	require.Equal(t, BatchResult{Written: 3, Failed: 1}, res)
	require.ErrorIs(t, err, ErrInvalidRecord)

	{
		msg, err := store.GetMessage(ctx, "m2")
		require.NoError(t, err)
		require.Equal(t, "u1", *msg.UserID)
		require.Equal(t, []Reaction{{Emoji: "👍", Count: 3}}, msg.Reactions)

		msg, err = store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		require.Nil(t, msg.UserID)
		require.True(t, msg.HasAttachments)
		require.Empty(t, msg.Reactions)

		_, err = store.GetMessage(ctx, "m4")
		require.ErrorIs(t, err, ErrNotFound)
	}
	{
		// full replace
		_, err := store.UpsertMessages(ctx, []Message{{
			MessageID: "m2",
			ChannelID: "c1",
			Timestamp: "2024-05-01T10:01:00.000Z",
			Content:   "second (edited)",
		}})
		require.NoError(t, err)
		msg, err := store.GetMessage(ctx, "m2")
		require.NoError(t, err)
		require.Equal(t, "second (edited)", msg.Content)
		require.Nil(t, msg.UserID)
		require.Empty(t, msg.Reactions)
	}
	{
		messages, err := store.MessagesByChannel(ctx, "c1", 0)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		require.Equal(t, "m1", messages[0].MessageID)
		require.Equal(t, "m2", messages[1].MessageID)

		messages, err = store.MessagesByChannel(ctx, "c1", 1)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		all, err := store.AllMessages(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, "m3", all[0].MessageID)
	}
	{
		total, err := store.MessageCount(ctx, "")
		require.NoError(t, err)
		require.Equal(t, 3, total)
		inChannel, err := store.MessageCount(ctx, "c2")
		require.NoError(t, err)
		require.Equal(t, 1, inChannel)
		none, err := store.MessageCount(ctx, "c9")
		require.NoError(t, err)
		require.Equal(t, 0, none)
	}
}

func TestSnapshotAndClear(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.UpsertServer(ctx, Server{ServerID: "s1", ServerName: "Gophers"}))
	require.NoError(t, store.UpsertChannel(ctx, Channel{ChannelID: "c1", ServerID: "s1", ChannelName: "general"}))
	_, err := store.UpsertUsers(ctx, []User{{UserID: "u1", Username: "alice"}})
	require.NoError(t, err)
	_, err = store.UpsertMessages(ctx, []Message{
		{MessageID: "m1", ChannelID: "c1", UserID: ptr("u1"), Timestamp: "2024-05-01T10:00:00.000Z"},
		{MessageID: "m2", ChannelID: "c1", UserID: ptr("u1"), Timestamp: "2024-05-01T10:01:00.000Z"},
	})
	require.NoError(t, err)

	snapshot, err := store.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snapshot.Servers, 1)
	require.Len(t, snapshot.Channels, 1)
	require.Len(t, snapshot.Users, 1)
	require.Len(t, snapshot.Messages, 1)
	require.Equal(t, "m1", snapshot.Messages[0].MessageID)

	require.NoError(t, store.Clear(ctx))
	snapshot, err = store.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, snapshot.Servers)
	require.Empty(t, snapshot.Channels)
	require.Empty(t, snapshot.Users)
	require.Empty(t, snapshot.Messages)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "archive.db")

	store, err := Open(ctx, Config{File: path})
	require.NoError(t, err)
	require.NoError(t, store.UpsertServer(ctx, Server{ServerID: "s1"}))
	require.NoError(t, store.Close())

	// reopening keeps the data and tolerates the existing schema
	store, err = Open(ctx, Config{File: path})
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetServer(ctx, "s1")
	require.NoError(t, err)

	_, err = Open(ctx, Config{})
	require.Error(t, err)
	_, err = Open(ctx, Config{Url: "ftp://example.com/db"})
	require.ErrorContains(t, err, "unsupported database url")
}

func TestDefault(t *testing.T) {
	SetDefaultConfig(Config{File: ":memory:"})
	first, err := Default()
	require.NoError(t, err)
	second, err := Default()
	require.NoError(t, err)
	require.Same(t, first.db, second.db)
}
