package state

import (
	"context"

	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
)

// AddWatch appends id to the watch set. added is false when id was already
// watched; its group is left as it was.
func (s *Service) AddWatch(ctx context.Context, id steamid.ID, group string) (bool, error) {
	group = cleanGroup(group)
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, e := range s.watch {
		if e.ID == id {
			return false, nil
		}
	}
	prev := s.watch
	next := make([]storage.WatchEntry, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, storage.WatchEntry{ID: id, Group: group})
	if err := s.store.SaveWatch(ctx, next); err != nil {
		return false, err
	}
	s.watch = next
	return true, nil
}

// RemoveWatch drops id and its group assignment.
func (s *Service) RemoveWatch(ctx context.Context, id steamid.ID) (bool, error) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	idx := -1
	for i, e := range s.watch {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	next := make([]storage.WatchEntry, 0, len(s.watch)-1)
	next = append(next, s.watch[:idx]...)
	next = append(next, s.watch[idx+1:]...)
	if err := s.store.SaveWatch(ctx, next); err != nil {
		return false, err
	}
	s.watch = next
	return true, nil
}

// SetGroup reassigns a watched identity. An empty group clears it.
func (s *Service) SetGroup(ctx context.Context, id steamid.ID, group string) error {
	group = cleanGroup(group)
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	next := append([]storage.WatchEntry(nil), s.watch...)
	found := false
	for i := range next {
		if next[i].ID == id {
			next[i].Group = group
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	if err := s.store.SaveWatch(ctx, next); err != nil {
		return err
	}
	s.watch = next
	return nil
}

// Watched returns the watch set in insertion order.
func (s *Service) Watched() []storage.WatchEntry {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	return append([]storage.WatchEntry(nil), s.watch...)
}

func (s *Service) WatchedIDs() []steamid.ID {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	out := make([]steamid.ID, len(s.watch))
	for i, e := range s.watch {
		out[i] = e.ID
	}
	return out
}

func (s *Service) IsWatched(id steamid.ID) bool {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, e := range s.watch {
		if e.ID == id {
			return true
		}
	}
	return false
}

// GroupOf returns the group of a watched identity, or "".
func (s *Service) GroupOf(id steamid.ID) string {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	for _, e := range s.watch {
		if e.ID == id {
			return e.Group
		}
	}
	return ""
}
