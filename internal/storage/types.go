package storage

import (
	"context"
	"errors"
	"time"

	"steamwatch/internal/steamid"
)

var ErrClosed = errors.New("storage closed")

// Config selects and configures a driver.
type Config struct {
	Driver      string        // "file" (default) or "sqlite"
	Dir         string        // file driver directory
	Path        string        // sqlite database path
	BusyTimeout time.Duration // sqlite only; 0 keeps the driver default
}

type WatchEntry struct {
	ID    steamid.ID `json:"steamid"`
	Group string     `json:"group,omitempty"`
}

type Binding struct {
	User string     `json:"user"`
	ID   steamid.ID `json:"steamid"`
	Name string     `json:"name,omitempty"`
}

// State is everything Load returns. Slices keep insertion order.
type State struct {
	Watch    []WatchEntry        `json:"watch"`
	Bindings []Binding           `json:"bindings"`
	Global   []string            `json:"global_audiences"`
	Groups   map[string][]string `json:"group_audiences"`
	Settings map[string]string   `json:"settings"`
}

// AuditEntry records one state-changing command.
type AuditEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
	Platform string    `json:"platform,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Store is the persistence boundary. Implementations are safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context) (State, error)
	SaveWatch(ctx context.Context, entries []WatchEntry) error
	SaveBindings(ctx context.Context, bindings []Binding) error
	SaveAudiences(ctx context.Context, global []string, groups map[string][]string) error
	SaveSetting(ctx context.Context, key, value string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, before time.Time) (int, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
