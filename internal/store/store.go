// Package store persists the relay's durable state: the poll watermark and
// the subscriber set. Two drivers are available, a plain JSON file and
// SQLite. Writes are synchronous; a successful call is visible to the next
// read in the same process.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"xrelay/pkg/logx"
)

// Subscriber is a registered alert recipient.
type Subscriber struct {
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store is the persistence API used by the relay and the registration
// handler. Implementations must tolerate a concurrent reader and writer.
type Store interface {
	// LoadCursor returns the persisted watermark, or "" when no poll has
	// ever completed.
	LoadCursor(ctx context.Context) (string, error)
	SaveCursor(ctx context.Context, sinceID string) error

	// UpsertSubscriber registers or refreshes a subscriber. FirstSeen is set
	// on insert and preserved afterwards; LastSeen always advances. Returns
	// whether the subscriber was new.
	UpsertSubscriber(ctx context.Context, sub Subscriber) (bool, error)
	Subscribers(ctx context.Context) ([]Subscriber, error)

	Close() error
}

type Config struct {
	Driver      string // "file" (default) or "sqlite"
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
