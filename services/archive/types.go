package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
)

type Server struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
}

// Channel is also used as a partial record when upserting, zero fields keep
// the stored value.
type Channel struct {
	ChannelID     string     `json:"channel_id"`
	ServerID      string     `json:"server_id"`
	ChannelName   string     `json:"channel_name"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
}

type User struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

type Message struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	// UserID is nil when the author is unknown.
	UserID         *string    `json:"user_id"`
	Timestamp      string     `json:"timestamp"`
	Content        string     `json:"content"`
	HasAttachments bool       `json:"has_attachments"`
	Reactions      []Reaction `json:"reactions"`
}

// Snapshot is a full dump of the store.
type Snapshot struct {
	Servers  []Server  `json:"servers"`
	Channels []Channel `json:"channels"`
	Users    []User    `json:"users"`
	Messages []Message `json:"messages"`
}

type BatchResult struct {
	Written int
	Failed  int
}

type RecordError struct {
	Key string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Err.Error())
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// BatchError collects the records of a batch write that could not be
// written. The rest of the batch was still written.
type BatchError struct {
	Failures []RecordError
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d record(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

func (e *BatchError) add(key string, err error) {
	e.Failures = append(e.Failures, RecordError{Key: key, Err: err})
}

func (e *BatchError) errOrNil() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}
