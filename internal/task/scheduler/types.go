package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"steamwatch/internal/eventbus"
	"steamwatch/pkg/logx"
)

const historySize = 50

// Config controls the scheduler service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty = Local
}

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           JobFunc
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base context for runs; canceled by Stop
	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup

	histMu  sync.Mutex
	history []HistoryItem

	metrics *metrics
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

// HistoryItem is one finished (or skipped) run.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}

// TaskEvent is the payload of task events on the bus.
type TaskEvent struct {
	Name     string
	Duration time.Duration
	Error    string
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem
}
