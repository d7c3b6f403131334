package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"steamwatch/internal/eventbus"
	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

var (
	ErrStopped         = errors.New("notifier stopped")
	ErrNoSender        = errors.New("no sender for platform")
	ErrInvalidAudience = errors.New("invalid audience")
)

const historySize = 300

// Router selects audiences for an identity and delivers to each of them.
// It is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	cfg       Config
	norm      Normalizer
	limiter   *rate.Limiter
	senders   map[string]Sender
	accepting bool
	inflight  sync.WaitGroup

	src   Audiences
	bus   eventbus.Bus
	log   logx.Logger
	dedup dedupCache
	m     *metrics

	hmu     sync.Mutex
	history []Delivery
	next    int

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, norm Normalizer, src Audiences, dedup DedupStore, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		norm:      norm,
		senders:   map[string]Sender{},
		accepting: true,
		src:       src,
		bus:       bus,
		log:       log.With(logx.String("comp", "notifier")),
		dedup:     dedupCache{marks: map[string]time.Time{}, store: dedup},
		m:         newMetrics(),
		sleep:     sleepCtx,
	}
	r.applyLocked(cfg)
	return r
}

// Apply swaps the delivery config. In-flight sends keep their snapshot.
func (r *Router) Apply(cfg Config) {
	r.mu.Lock()
	r.applyLocked(cfg)
	r.mu.Unlock()
}

func (r *Router) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	r.cfg = cfg
	// burst = rate so short spikes pass without waiting
	r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (r *Router) SetNormalizer(n Normalizer) {
	r.mu.Lock()
	r.norm = n
	r.mu.Unlock()
}

func (r *Router) Normalizer() Normalizer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.norm
}

// SetSender registers the sender for a platform. A nil sender removes it.
func (r *Router) SetSender(platform string, s Sender) {
	platform = strings.TrimSpace(platform)
	r.mu.Lock()
	if s == nil {
		delete(r.senders, platform)
	} else {
		r.senders[platform] = s
	}
	r.mu.Unlock()
}

// Audiences returns the canonical, deduplicated audiences an event about id
// goes to. A group whose entries are all invalid falls back to global.
func (r *Router) Audiences(id steamid.ID) []string {
	auds, _ := r.targets(id)
	return auds
}

func (r *Router) targets(id steamid.ID) (auds []string, invalid int) {
	if r.src == nil {
		return nil, 0
	}
	r.mu.RLock()
	groupEnabled, norm := r.cfg.GroupEnabled, r.norm
	r.mu.RUnlock()

	if groupEnabled {
		if g := r.src.GroupOf(id); g != "" {
			auds, invalid = norm.NormalizeList(r.src.GroupAudiences(g))
			if len(auds) > 0 {
				return auds, invalid
			}
		}
	}
	global, bad := norm.NormalizeList(r.src.GlobalAudiences())
	return global, invalid + bad
}

// Route delivers text about id to its audiences. Failures are logged,
// counted and published; they are never returned.
func (r *Router) Route(ctx context.Context, id steamid.ID, text string) {
	if !r.enter() {
		r.log.Debug("route after stop", logx.Stringer("steamid", id))
		return
	}
	defer r.inflight.Done()

	targets, invalid := r.targets(id)
	if invalid > 0 {
		r.log.Warn("skipping invalid stored audiences", logx.Stringer("steamid", id), logx.Int("invalid", invalid))
	}
	if len(targets) == 0 {
		r.log.Info("no audience subscribed, dropping notification", logx.Stringer("steamid", id))
		r.m.dropped.Inc()
		r.publish(eventbus.NotifierDropped, DeliveryEvent{SteamID: id})
		return
	}

	var errs error
	for _, aud := range targets {
		if err := r.deliver(ctx, id, aud, text); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", aud, err))
		}
	}
	if errs != nil {
		r.log.Warn("notification failed for some audiences",
			logx.Stringer("steamid", id),
			logx.Int("failed", len(multierr.Errors(errs))),
			logx.Int("audiences", len(targets)),
			logx.Err(errs),
		)
	}
}

// Send delivers text to a single audience, with the same rate limit, retry
// and dedup as Route.
func (r *Router) Send(ctx context.Context, audience, text string) error {
	if !r.enter() {
		return ErrStopped
	}
	defer r.inflight.Done()
	return r.deliver(ctx, 0, audience, text)
}

func (r *Router) enter() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accepting {
		return false
	}
	r.inflight.Add(1)
	return true
}

// Stop refuses new deliveries and waits for in-flight ones until ctx ends.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.accepting = false
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) deliver(ctx context.Context, id steamid.ID, raw, text string) error {
	r.mu.RLock()
	cfg, norm, lim := r.cfg, r.norm, r.limiter
	r.mu.RUnlock()

	aud, ok := norm.Normalize(raw)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidAudience, raw)
	}
	target := aud.String()

	r.mu.RLock()
	sender := r.senders[aud.Platform]
	r.mu.RUnlock()
	if sender == nil {
		err := fmt.Errorf("%w: %s", ErrNoSender, aud.Platform)
		r.fail(id, aud, text, "", 0, err)
		return err
	}

	key := dedupKey(target, text)
	if cfg.DedupWindow > 0 && !r.dedup.allow(ctx, key, cfg.DedupWindow, cfg.DedupMaxEntries, time.Now()) {
		r.m.deduped.Inc()
		r.record(Delivery{At: time.Now(), Audience: target, Text: text, Deduped: true})
		r.publish(eventbus.NotifierDeduped, DeliveryEvent{SteamID: id, Audience: target, Key: key})
		return nil
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.SendText(callCtx, aud.Channel, text)
		cancel()
		if err == nil {
			r.m.deliveries.WithLabelValues(aud.Platform, "ok").Inc()
			r.record(Delivery{At: time.Now(), Audience: target, Text: text, OK: true})
			r.publish(eventbus.NotifierSent, DeliveryEvent{SteamID: id, Audience: target, Key: key, Attempts: attempt})
			return nil
		}
		lastErr = err
		r.log.Debug("send failed", logx.String("audience", target), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}
		if err := r.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			break
		}
	}
	r.fail(id, aud, text, key, attempt, lastErr)
	return lastErr
}

func (r *Router) fail(id steamid.ID, aud Audience, text, key string, attempts int, err error) {
	r.m.deliveries.WithLabelValues(aud.Platform, "failed").Inc()
	r.record(Delivery{At: time.Now(), Audience: aud.String(), Text: text, Error: err.Error()})
	r.publish(eventbus.NotifierFailed, DeliveryEvent{SteamID: id, Audience: aud.String(), Key: key, Attempts: attempts, Error: err.Error()})
}

func (r *Router) publish(typ string, ev DeliveryEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (r *Router) record(d Delivery) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if len(r.history) < historySize {
		r.history = append(r.history, d)
		return
	}
	r.history[r.next] = d
	r.next = (r.next + 1) % historySize
}

// History returns recent deliveries, oldest first.
func (r *Router) History() []Delivery {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	out := make([]Delivery, 0, len(r.history))
	out = append(out, r.history[r.next:]...)
	out = append(out, r.history[:r.next]...)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
