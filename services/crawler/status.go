package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type Status struct {
	IsCrawling         bool   `json:"is_crawling"`
	CurrentChannelID   string `json:"current_channel_id,omitempty"`
	CurrentChannelName string `json:"current_channel_name,omitempty"`
	CurrentServerName  string `json:"current_server_name,omitempty"`
	// MessageCount is the number of messages extracted in the session,
	// including those whose write failed.
	MessageCount       int    `json:"message_count"`
	State              string `json:"state"`
	LastError          string `json:"last_error,omitempty"`
}

// Observer is told about every state transition of the crawl and about its
// progress.
type Observer interface {
	Notify(ctx context.Context, status Status) error
}

type ObserverFunc func(ctx context.Context, status Status) error

func (f ObserverFunc) Notify(ctx context.Context, status Status) error {
	return f(ctx, status)
}

var ErrObserverFull = errors.New("observer channel is full")

// ChanObserver forwards statuses to a channel without blocking the crawl.
type ChanObserver chan Status

func (c ChanObserver) Notify(ctx context.Context, status Status) error {
	select {
	case c <- status:
		return nil
	default:
		return ErrObserverFull
	}
}

type observers struct {
	mu     sync.Mutex
	nextId int
	list   map[int]Observer
}

func (o *observers) add(observer Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.list == nil {
		o.list = map[int]Observer{}
	}
	id := o.nextId
	o.nextId++
	o.list[id] = observer
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.list, id)
	}
}

func (o *observers) snapshot() []Observer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Observer, 0, len(o.list))
	for _, observer := range o.list {
		out = append(out, observer)
	}
	return out
}

// notify delivers status to every observer, a failed delivery is retried
// once and then only logged.
func (o *observers) notify(ctx context.Context, status Status) {
	for _, observer := range o.snapshot() {
		err := observer.Notify(ctx, status)
		if err == nil {
			continue
		}
		err = observer.Notify(ctx, status)
		if err != nil {
			notifyFailures.Add(ctx, 1)
			slog.WarnContext(ctx, "failed to notify observer", "state", status.State, "err", err)
		}
	}
}
