package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatarchive/lib/scrapers/chat"
	"chatarchive/lib/scrapers/chat/fixture"
	"chatarchive/lib/testutil"
	"chatarchive/services/archive"
	"chatarchive/services/archive/db"

	"github.com/stretchr/testify/require"
)

func setupService(t *testing.T, settle time.Duration) (*Service, archive.Store, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "crawler",
		DbSchema: db.Schema,
	})
	store := archive.NewStore(res.DB)
	svc := NewService(store, Options{
		Engine: chat.EngineOptions{
			SettleDelay: settle,
			StepDelay:   time.Millisecond,
		},
	})
	return svc, store, cleanup
}

func channelSurface(t *testing.T, pages int) *fixture.Surface {
	markup := make([]string, pages)
	for i := range markup {
		markup[i] = fixture.Generate("c1", i*30, 30)
	}
	surface, err := fixture.FromHTML(fixture.Options{}, markup...)
	require.NoError(t, err)
	return surface
}

var target = Target{
	URL:         "https://discord.com/channels/s1/c1",
	ServerName:  "Gophers",
	ChannelName: "general",
}

type recorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *recorder) Notify(ctx context.Context, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recorder) last() (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

func TestCrawlToCompletion(t *testing.T) {
	svc, store, cleanup := setupService(t, time.Millisecond)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &recorder{}
	unsubscribe := svc.Subscribe(rec)
	defer unsubscribe()

	err := svc.Start(ctx, target, channelSurface(t, 3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := rec.last()
		return ok && !status.IsCrawling
	}, 5*time.Second, 5*time.Millisecond)

	status := svc.Status()
	require.False(t, status.IsCrawling)
	require.Equal(t, 90, status.MessageCount)
	require.Empty(t, status.LastError)

	count, err := store.MessageCount(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 90, count)

	channel, err := store.GetChannel(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "general", channel.ChannelName)
	require.Equal(t, "s1", channel.ServerID)
	require.NotNil(t, channel.LastCrawledAt)

	server, err := store.GetServer(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Gophers", server.ServerName)

	users, err := store.AllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)

	// grouped messages inherit the author of the header above them
	msg, err := store.GetMessage(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, msg.UserID)
	require.Equal(t, "102", *msg.UserID)

	rec.mu.Lock()
	sawSettling := false
	for _, s := range rec.statuses {
		if s.IsCrawling && s.State == chat.StateSettling.String() {
			sawSettling = true
			require.Equal(t, "c1", s.CurrentChannelID)
			require.Equal(t, "Gophers", s.CurrentServerName)
		}
	}
	rec.mu.Unlock()
	require.True(t, sawSettling)
}

func TestStartBusyAndStop(t *testing.T) {
	svc, store, cleanup := setupService(t, 20*time.Millisecond)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := svc.Start(ctx, target, channelSurface(t, 50))
	require.NoError(t, err)

	other := Target{URL: "https://discord.com/channels/s2/c2"}
	err = svc.Start(ctx, other, channelSurface(t, 1))
	require.ErrorIs(t, err, ErrBusy)

	status := svc.Status()
	require.True(t, status.IsCrawling)
	require.Equal(t, "c1", status.CurrentChannelID)
	_, err = store.GetChannel(ctx, "c2")
	require.ErrorIs(t, err, archive.ErrNotFound)

	before := time.Now().UTC()
	require.NoError(t, svc.Stop(ctx))
	require.NoError(t, svc.Stop(ctx))

	status = svc.Status()
	require.False(t, status.IsCrawling)
	require.Greater(t, status.MessageCount, 0)

	channel, err := store.GetChannel(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, channel.LastCrawledAt)
	require.False(t, channel.LastCrawledAt.Before(before.Truncate(time.Millisecond)))

	// the slot is free again
	err = svc.Start(ctx, other, channelSurface(t, 1))
	require.NoError(t, err)
	require.NoError(t, svc.Stop(ctx))
}

func TestAbandon(t *testing.T) {
	svc, store, cleanup := setupService(t, 20*time.Millisecond)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, svc.Abandon(ctx, "nothing running"))

	err := svc.Start(ctx, target, channelSurface(t, 50))
	require.NoError(t, err)
	require.NoError(t, svc.Abandon(ctx, "tab closed"))

	status := svc.Status()
	require.False(t, status.IsCrawling)
	require.Equal(t, "abandoned: tab closed", status.LastError)

	channel, err := store.GetChannel(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, channel.LastCrawledAt)

	// what was written before stays
	count, err := store.MessageCount(ctx, "c1")
	require.NoError(t, err)
	require.Greater(t, count, 0)
}

func TestStartNotCrawlable(t *testing.T) {
	svc, store, cleanup := setupService(t, time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	err := svc.Start(ctx, Target{URL: "https://discord.com/app"}, channelSurface(t, 1))
	require.ErrorIs(t, err, ErrNotCrawlable)
	require.False(t, svc.Status().IsCrawling)

	count, err := store.ChannelCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

type failingSurface struct {
	*fixture.Surface
}

func (failingSurface) Candidates(ctx context.Context) ([]chat.Node, error) {
	return nil, errors.New("render bridge went away")
}

func TestStartSurfaceFailure(t *testing.T) {
	svc, _, cleanup := setupService(t, time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	err := svc.Start(ctx, target, failingSurface{channelSurface(t, 1)})
	require.ErrorContains(t, err, "render bridge went away")

	status := svc.Status()
	require.False(t, status.IsCrawling)
	require.Contains(t, status.LastError, "render bridge went away")
}

func TestParseChannelURL(t *testing.T) {
	cases := []struct {
		url     string
		server  string
		channel string
		ok      bool
	}{
		{"https://discord.com/channels/1/2", "1", "2", true},
		{"https://discord.com/channels/@me/77/", "@me", "77", true},
		{"https://ptb.discord.com/channels/1/2/3?x=y", "1", "2", true},
		{"/channels/1/2", "1", "2", true},
		{"https://discord.com/channels/1", "", "", false},
		{"https://discord.com/app", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		server, channel, err := ParseChannelURL(c.url)
		if !c.ok {
			require.ErrorIs(t, err, ErrNotCrawlable, c.url)
			continue
		}
		require.NoError(t, err, c.url)
		require.Equal(t, c.server, server, c.url)
		require.Equal(t, c.channel, channel, c.url)
	}
}

func TestObservers(t *testing.T) {
	ctx := context.Background()
	{
		full := make(ChanObserver)
		require.ErrorIs(t, full.Notify(ctx, Status{}), ErrObserverFull)

		buffered := make(ChanObserver, 1)
		require.NoError(t, buffered.Notify(ctx, Status{MessageCount: 3}))
		require.Equal(t, 3, (<-buffered).MessageCount)
	}
	{
		var o observers
		calls := 0
		unsubscribe := o.add(ObserverFunc(func(ctx context.Context, status Status) error {
			calls++
			if calls == 1 {
				return errors.New("flaky")
			}
			return nil
		}))
		o.notify(ctx, Status{})
		require.Equal(t, 2, calls)

		unsubscribe()
		o.notify(ctx, Status{})
		require.Equal(t, 2, calls)
	}
}

func TestProgressNotifications(t *testing.T) {
	svc, _, cleanup := setupService(t, time.Millisecond)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &recorder{}
	unsubscribe := svc.Subscribe(rec)
	defer unsubscribe()

	err := svc.Start(ctx, target, channelSurface(t, 3))
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.statuses)

	// the initially rendered messages cross several multiples at once,
	// each of them is reported on its own
	require.Equal(t, 10, rec.statuses[0].MessageCount)
	require.Equal(t, 20, rec.statuses[1].MessageCount)

	seen := map[int]bool{}
	prev := 0
	for _, s := range rec.statuses {
		require.GreaterOrEqual(t, s.MessageCount, prev)
		prev = s.MessageCount
		if s.IsCrawling {
			seen[s.MessageCount] = true
		}
	}
	for m := 10; m <= 90; m += 10 {
		require.True(t, seen[m], "no notification for %d", m)
	}
}

// lossyStore rejects the first message of every batch.
type lossyStore struct {
	archive.Store
}

func (s lossyStore) UpsertMessages(ctx context.Context, messages []archive.Message) (archive.BatchResult, error) {
	if len(messages) > 0 {
		messages = append([]archive.Message(nil), messages...)
		messages[0].ChannelID = ""
	}
	return s.Store.UpsertMessages(ctx, messages)
}

func TestMessageCountIncludesFailedWrites(t *testing.T) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "crawler",
		DbSchema: db.Schema,
	})
	defer cleanup()
	store := archive.NewStore(res.DB)
	svc := NewService(lossyStore{Store: store}, Options{
		Engine: chat.EngineOptions{
			SettleDelay: time.Millisecond,
			StepDelay:   time.Millisecond,
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := svc.Start(ctx, target, channelSurface(t, 3))
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx))

	status := svc.Status()
	require.Equal(t, 90, status.MessageCount)
	require.Contains(t, status.LastError, "invalid record")

	stored, err := store.MessageCount(ctx, "c1")
	require.NoError(t, err)
	require.Less(t, stored, 90)
}
