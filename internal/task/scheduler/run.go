package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"steamwatch/internal/eventbus"
	"steamwatch/pkg/logx"
)

var ErrOverlapSkip = errors.New("previous run still in progress")

func (s *Service) run(parent context.Context, d scheduleDef) (err error) {
	start := time.Now()
	if !d.running.CompareAndSwap(false, true) {
		s.metrics.runs.WithLabelValues(d.name, "skipped").Inc()
		s.record(HistoryItem{Name: d.name, Started: start, Skipped: true})
		s.log.Debug("schedule trigger skipped", logx.String("schedule", d.name))
		return ErrOverlapSkip
	}
	s.inflight.Add(1)
	defer s.inflight.Done()
	defer d.running.Store(false)

	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job", logx.String("schedule", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		took := time.Since(start)
		item := HistoryItem{Name: d.name, Started: start, Duration: took}
		ev := TaskEvent{Name: d.name, Duration: took}
		result := "ok"
		typ := eventbus.TaskFinished
		if err != nil {
			result = "error"
			typ = eventbus.TaskFailed
			item.Error = err.Error()
			ev.Error = err.Error()
			s.log.Warn("scheduled job failed", logx.String("schedule", d.name), logx.Duration("took", took), logx.Err(err))
		} else {
			s.log.Debug("scheduled job done", logx.String("schedule", d.name), logx.Duration("took", took))
		}
		s.metrics.runs.WithLabelValues(d.name, result).Inc()
		s.metrics.duration.WithLabelValues(d.name).Observe(took.Seconds())
		s.record(item)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
		}
	}()

	return d.job(ctx)
}

func (s *Service) record(it HistoryItem) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns recent runs, oldest first.
func (s *Service) History() []HistoryItem {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
