package watch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

// Fetcher returns presence keyed by identity. Missing identities are absent
// from the map.
type Fetcher interface {
	Summaries(ctx context.Context, ids []steamid.ID) (map[steamid.ID]steamapi.Player, error)
}

// WatchList is the ordered watch set.
type WatchList interface {
	WatchedIDs() []steamid.ID
	IsWatched(id steamid.ID) bool
}

type Router interface {
	Route(ctx context.Context, id steamid.ID, text string)
}

type Options struct {
	Fetcher Fetcher
	Watch   WatchList
	Router  Router
	Bus     eventbus.Bus
	Log     logx.Logger

	// Interval is re-read before every wait.
	Interval func() time.Duration
	// NotifyOnStop is read once per cycle.
	NotifyOnStop func() bool
	Now          func() time.Time
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	ID       string        `json:"id"`
	Watched  int           `json:"watched"`
	Fetched  int           `json:"fetched"`
	Events   int           `json:"events"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Engine struct {
	opts Options
	log  logx.Logger
	m    *metrics

	cycleMu sync.Mutex

	mu       sync.RWMutex
	sessions map[steamid.ID]Session
	last     CycleReport

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(opts Options) *Engine {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interval == nil {
		opts.Interval = func() time.Duration { return time.Minute }
	}
	if opts.NotifyOnStop == nil {
		opts.NotifyOnStop = func() bool { return false }
	}
	return &Engine{
		opts:     opts,
		log:      opts.Log.With(logx.String("comp", "watch")),
		m:        newMetrics(),
		sessions: map[steamid.ID]Session{},
		stopCh:   make(chan struct{}),
	}
}

// Cycle runs one poll. Concurrent calls are serialized.
func (e *Engine) Cycle(ctx context.Context) CycleReport {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	rep := CycleReport{ID: uuid.NewString()}
	defer func() {
		rep.Duration = time.Since(start)
		e.m.cycleSeconds.Observe(rep.Duration.Seconds())
		e.mu.Lock()
		e.last = rep
		e.mu.Unlock()
		e.publish(eventbus.WatchCycle, rep)
	}()

	ids := e.opts.Watch.WatchedIDs()
	rep.Watched = len(ids)
	e.m.watched.Set(float64(len(ids)))
	if len(ids) == 0 {
		rep.Skipped = true
		e.m.cycles.WithLabelValues("skipped").Inc()
		return rep
	}

	players, err := e.opts.Fetcher.Summaries(ctx, ids)
	if err != nil {
		rep.Error = err.Error()
		e.m.cycles.WithLabelValues("error").Inc()
		e.m.fetchFailures.Inc()
		e.log.Warn("presence fetch failed", logx.String("cycle", rep.ID), logx.Int("watched", len(ids)), logx.Err(err))
		return rep
	}
	rep.Fetched = len(players)

	now := e.opts.Now()
	notifyOnStop := e.opts.NotifyOnStop()
	for _, id := range ids {
		p, ok := players[id]
		if !ok {
			continue
		}
		active, label := p.Playing()
		obs := Observation{Active: active, Label: label, Persona: p.Name(id.String())}

		// Removal takes effect mid-cycle: Forget runs after the watch set
		// drops id, so checking under e.mu never resurrects a session.
		e.mu.Lock()
		if !e.opts.Watch.IsWatched(id) {
			e.mu.Unlock()
			continue
		}
		next, ev := step(id, e.sessions[id], obs, now, notifyOnStop)
		e.sessions[id] = next
		e.mu.Unlock()

		if ev == nil {
			continue
		}
		rep.Events++
		e.m.events.WithLabelValues(ev.Kind.String()).Inc()
		e.log.Info("presence changed",
			logx.String("cycle", rep.ID),
			logx.Stringer("steamid", id),
			logx.String("event", ev.Kind.String()),
			logx.String("label", ev.Label),
			logx.Int("minutes", ev.Minutes),
		)
		if ev.Kind == Started {
			e.publish(eventbus.WatchStarted, *ev)
		} else {
			e.publish(eventbus.WatchStopped, *ev)
		}
		if e.opts.Router != nil {
			e.opts.Router.Route(ctx, id, ev.Text())
		}
	}
	e.m.cycles.WithLabelValues("ok").Inc()
	return rep
}

// Run polls until ctx ends or Stop is called. A panicking cycle is logged
// and the loop continues.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("poll loop started")
	defer e.log.Info("poll loop stopped")
	for {
		e.safeCycle(ctx)

		wait := e.opts.Interval()
		if wait <= 0 {
			wait = time.Minute
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-e.stopCh:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (e *Engine) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.m.cycles.WithLabelValues("panic").Inc()
			e.log.Error("poll cycle panic", logx.Any("panic", fmt.Sprint(r)), logx.Stack(string(debug.Stack())))
		}
	}()
	select {
	case <-e.stopCh:
		return
	default:
	}
	e.Cycle(ctx)
}

// Stop ends Run. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Forget drops the session for id so a re-added identity starts Unseen.
// Callers remove id from the watch set first.
func (e *Engine) Forget(id steamid.ID) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// Snapshot copies the session table.
func (e *Engine) Snapshot() map[steamid.ID]Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[steamid.ID]Session, len(e.sessions))
	for k, v := range e.sessions {
		out[k] = v
	}
	return out
}

// LastCycle returns the report of the most recent cycle.
func (e *Engine) LastCycle() CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) publish(typ string, data any) {
	if e.opts.Bus == nil {
		return
	}
	e.opts.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
