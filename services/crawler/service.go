package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatarchive/lib/scrapers/chat"
	"chatarchive/lib/timezone"
	"chatarchive/services/archive"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrBusy = errors.New("a crawl is already running")

type Options struct {
	Engine chat.EngineOptions
	// ProgressEvery is the message count interval at which observers are
	// told about progress, defaults to 10.
	ProgressEvery int
}

// Service owns the single crawl slot of the process.
type Service struct {
	store archive.KeyedStore
	opts  Options

	mu        sync.Mutex
	session   *session
	lastError string
	lastCount int

	observers observers
}

type session struct {
	target    resolvedTarget
	extractor *chat.Extractor
	engine    *chat.Engine
	cancel    context.CancelFunc
	done      chan struct{}

	// guarded by Service.mu
	messageCount  int
	stoppedAt     *time.Time
	abandoned     bool
	abandonReason string
}

func NewService(store archive.KeyedStore, opts Options) *Service {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	return &Service{
		store: store,
		opts:  opts,
	}
}

// Subscribe registers an observer, the returned function removes it.
func (s *Service) Subscribe(observer Observer) (unsubscribe func()) {
	return s.observers.add(observer)
}

// Start begins crawling target through surface. It returns ErrBusy while
// another crawl is running and ErrNotCrawlable when the target url does
// not point to a channel, in both cases nothing is changed. The crawl
// itself outlives ctx, use Stop or Abandon to end it.
func (s *Service) Start(ctx context.Context, target Target, surface chat.Surface) error {
	ctx, span := tracer.Start(ctx, "crawler:Start")
	defer span.End()

	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return ErrBusy
	}
	resolved, err := target.resolve()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	span.SetAttributes(
		attribute.String("server_id", resolved.ServerID),
		attribute.String("channel_id", resolved.ChannelID),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		target:    resolved,
		extractor: chat.NewExtractor(resolved.ChannelID),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	sess.engine = chat.NewEngine(surface, sess.extractor, s.opts.Engine, chat.Hooks{
		OnBatch: func(ctx context.Context, pairs []chat.Pair) error {
			return s.writeBatch(ctx, sess, pairs)
		},
		OnState: func(chat.State) {
			s.observers.notify(runCtx, s.Status())
		},
	})
	s.session = sess
	s.lastError = ""
	s.lastCount = 0
	s.mu.Unlock()

	last, err := s.prepare(ctx, sess, surface)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start crawl")

		s.mu.Lock()
		s.session = nil
		s.lastError = err.Error()
		s.mu.Unlock()
		cancel()
		close(sess.done)
		return err
	}
	sess.engine.SetLastAuthor(last)

	slog.InfoContext(
		ctx, "crawl started",
		"server_id", resolved.ServerID,
		"channel_id", resolved.ChannelID,
		"channel_name", resolved.ChannelName,
	)
	go s.run(runCtx, sess)
	return nil
}

// prepare records the server and channel and forwards the messages that
// are already rendered as the first batch.
func (s *Service) prepare(ctx context.Context, sess *session, surface chat.Surface) (string, error) {
	target := sess.target
	err := s.store.UpsertServer(ctx, archive.Server{
		ServerID:   target.ServerID,
		ServerName: target.ServerName,
	})
	if err != nil {
		return "", fmt.Errorf("upsert server: %w", err)
	}
	err = s.store.UpsertChannel(ctx, archive.Channel{
		ChannelID:   target.ChannelID,
		ServerID:    target.ServerID,
		ChannelName: target.ChannelName,
	})
	if err != nil {
		return "", fmt.Errorf("upsert channel: %w", err)
	}

	sess.extractor.Reset()
	nodes, err := surface.Candidates(ctx)
	if err != nil {
		return "", fmt.Errorf("read candidates: %w", err)
	}
	pairs, last := sess.extractor.ExtractAll(ctx, nodes, "")
	err = s.writeBatch(ctx, sess, pairs)
	if err != nil {
		slog.WarnContext(ctx, "initial batch was partially written", "err", err)
	}
	return last, nil
}

func (s *Service) run(ctx context.Context, sess *session) {
	err := sess.engine.Run(ctx)
	s.finish(context.WithoutCancel(ctx), sess, err)
}

// finish releases the crawl slot. A crawl that ended by itself or through
// Stop stamps the channel, an abandoned or failed one does not. Once Stop
// was called the crawl counts as stopped even if it then failed.
func (s *Service) finish(ctx context.Context, sess *session, runErr error) {
	s.mu.Lock()
	abandoned := sess.abandoned
	reason := sess.abandonReason
	stamp := sess.stoppedAt
	s.mu.Unlock()

	var lastError string
	switch {
	case abandoned:
		lastError = "abandoned"
		if reason != "" {
			lastError = fmt.Sprintf("abandoned: %s", reason)
		}
		slog.WarnContext(ctx, "crawl abandoned", "channel_id", sess.target.ChannelID, "reason", reason)
	case runErr != nil && stamp == nil:
		lastError = runErr.Error()
		slog.ErrorContext(ctx, "crawl failed", "channel_id", sess.target.ChannelID, "err", runErr)
	default:
		if stamp == nil {
			now := timezone.Now()
			stamp = &now
		}
		err := s.store.UpsertChannel(ctx, archive.Channel{
			ChannelID:     sess.target.ChannelID,
			LastCrawledAt: stamp,
		})
		if err != nil {
			lastError = fmt.Sprintf("stamp channel: %s", err.Error())
			slog.ErrorContext(ctx, "failed to stamp channel", "channel_id", sess.target.ChannelID, "err", err)
		}
	}

	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.lastCount = sess.messageCount
	if lastError != "" {
		s.lastError = lastError
	}
	s.mu.Unlock()

	sess.cancel()
	close(sess.done)

	slog.InfoContext(ctx, "crawl finished", "channel_id", sess.target.ChannelID, "messages", sess.extractor.Processed())
	s.observers.notify(ctx, s.Status())
}

// Stop ends the running crawl, stamps the channel as crawled and waits for
// the crawl to wind down. Without a running crawl it does nothing.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return nil
	}
	if sess.stoppedAt == nil && !sess.abandoned {
		now := timezone.Now()
		sess.stoppedAt = &now
	}
	s.mu.Unlock()

	sess.engine.Stop()
	return wait(ctx, sess)
}

// Abandon force-terminates the running crawl without stamping the channel.
func (s *Service) Abandon(ctx context.Context, reason string) error {
	s.mu.Lock()
	sess := s.session
	if sess == nil {
		s.mu.Unlock()
		return nil
	}
	if sess.stoppedAt == nil {
		sess.abandoned = true
		sess.abandonReason = reason
	}
	s.mu.Unlock()

	sess.cancel()
	return wait(ctx, sess)
}

// Wait blocks until the running crawl, if any, has finished.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return wait(ctx, sess)
}

func wait(ctx context.Context, sess *session) error {
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		return Status{
			State:        chat.StateIdle.String(),
			MessageCount: s.lastCount,
			LastError:    s.lastError,
		}
	}
	return Status{
		IsCrawling:         true,
		CurrentChannelID:   sess.target.ChannelID,
		CurrentChannelName: sess.target.ChannelName,
		CurrentServerName:  sess.target.ServerName,
		MessageCount:       sess.messageCount,
		State:              sess.engine.State().String(),
		LastError:          s.lastError,
	}
}

func toRecords(pairs []chat.Pair) ([]archive.User, []archive.Message) {
	var users []archive.User
	userIndex := map[string]int{}
	messages := make([]archive.Message, 0, len(pairs))

	for _, p := range pairs {
		if p.User != nil {
			user := archive.User{
				UserID:    p.User.ID,
				Username:  p.User.Username,
				AvatarURL: p.User.AvatarURL,
			}
			if i, ok := userIndex[user.UserID]; ok {
				users[i] = user
			} else {
				userIndex[user.UserID] = len(users)
				users = append(users, user)
			}
		}

		msg := archive.Message{
			MessageID:      p.Message.ID,
			ChannelID:      p.Message.ChannelID,
			Timestamp:      p.Message.Timestamp,
			Content:        p.Message.Content,
			HasAttachments: p.Message.HasAttachments,
		}
		if p.Message.AuthorID != "" {
			author := p.Message.AuthorID
			msg.UserID = &author
		}
		for _, r := range p.Message.Reactions {
			msg.Reactions = append(msg.Reactions, archive.Reaction{Emoji: r.Emoji, Count: r.Count})
		}
		messages = append(messages, msg)
	}
	return users, messages
}

// writeBatch stores one step worth of extracted pairs: one user write and
// one message write. Failures only affect the records involved, the
// session count still includes them.
func (s *Service) writeBatch(ctx context.Context, sess *session, pairs []chat.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	users, messages := toRecords(pairs)

	var errs []error
	if len(users) > 0 {
		_, err := s.store.UpsertUsers(ctx, users)
		if err != nil {
			errs = append(errs, fmt.Errorf("users: %w", err))
		}
	}
	_, err := s.store.UpsertMessages(ctx, messages)
	if err != nil {
		errs = append(errs, fmt.Errorf("messages: %w", err))
	}
	err = errors.Join(errs...)

	s.mu.Lock()
	before := sess.messageCount
	sess.messageCount += len(pairs)
	after := sess.messageCount
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		batchFailures.Add(ctx, 1)
	}

	// one notification per crossed multiple, carrying that multiple
	every := s.opts.ProgressEvery
	for crossed := (before/every + 1) * every; crossed <= after; crossed += every {
		status := s.Status()
		status.MessageCount = crossed
		s.observers.notify(ctx, status)
	}
	return err
}
