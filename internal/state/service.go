// Package state holds the live watch set, bindings and audience sets in
// memory and writes every change through to storage.
package state

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"steamwatch/internal/notifier"
	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
	"steamwatch/pkg/logx"
)

// SettingPollInterval holds a runtime poll interval override as a Go
// duration string.
const SettingPollInterval = "poll_interval"

var (
	ErrAlreadyBound    = errors.New("user already bound")
	ErrIdentityTaken   = errors.New("identity bound to another user")
	ErrNotFound        = errors.New("not found")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrInvalidGroup    = errors.New("invalid group name")
)

// Counts summarizes stored audiences.
type Counts struct {
	Global int
	Groups int // group audiences across all groups
}

// Service guards each collection with its own lock. A mutation is applied
// in memory, persisted, and reverted if the store rejects it.
type Service struct {
	store storage.Store
	log   logx.Logger

	watchMu sync.RWMutex
	watch   []storage.WatchEntry

	bindMu   sync.RWMutex
	bindings []storage.Binding

	audMu  sync.RWMutex
	norm   notifier.Normalizer
	global []string
	groups map[string][]string

	setMu    sync.RWMutex
	settings map[string]string
}

func New(store storage.Store, norm notifier.Normalizer, log logx.Logger) *Service {
	return &Service{
		store:    store,
		norm:     norm,
		log:      log.With(logx.String("comp", "state")),
		groups:   map[string][]string{},
		settings: map[string]string{},
	}
}

// Load replaces the in-memory state with what the store holds. Audiences
// are kept as stored; NormalizeAudiences cleans legacy entries.
func (s *Service) Load(ctx context.Context) error {
	st, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.watchMu.Lock()
	s.watch = dedupWatch(st.Watch)
	s.watchMu.Unlock()

	s.bindMu.Lock()
	s.bindings = append([]storage.Binding(nil), st.Bindings...)
	s.bindMu.Unlock()

	s.audMu.Lock()
	s.global = append([]string(nil), st.Global...)
	s.groups = copyGroups(st.Groups)
	s.audMu.Unlock()

	s.setMu.Lock()
	s.settings = map[string]string{}
	for k, v := range st.Settings {
		s.settings[k] = v
	}
	s.setMu.Unlock()

	s.log.Info("state loaded",
		logx.Int("watched", len(st.Watch)),
		logx.Int("bindings", len(st.Bindings)),
		logx.Int("global_audiences", len(st.Global)),
		logx.Int("groups", len(st.Groups)),
	)
	return nil
}

func dedupWatch(in []storage.WatchEntry) []storage.WatchEntry {
	seen := make(map[steamid.ID]struct{}, len(in))
	out := make([]storage.WatchEntry, 0, len(in))
	for _, e := range in {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Store returns the underlying store for audit and maintenance callers.
func (s *Service) Store() storage.Store { return s.store }

// Setting returns a runtime setting, or "" when unset.
func (s *Service) Setting(key string) string {
	s.setMu.RLock()
	defer s.setMu.RUnlock()
	return s.settings[key]
}

// SetSetting persists a runtime setting. An empty value clears it.
func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()
	prev, had := s.settings[key]
	if value == "" {
		delete(s.settings, key)
	} else {
		s.settings[key] = value
	}
	if err := s.store.SaveSetting(ctx, key, value); err != nil {
		if had {
			s.settings[key] = prev
		} else {
			delete(s.settings, key)
		}
		return err
	}
	return nil
}

func cleanGroup(g string) string { return strings.TrimSpace(g) }

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
