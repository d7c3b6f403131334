package state

import (
	"context"
	"strings"

	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
)

// Bind links a chat user to one identity. A user holds at most one binding
// and an identity belongs to at most one user.
func (s *Service) Bind(ctx context.Context, user string, id steamid.ID, name string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrNotFound
	}
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	for _, b := range s.bindings {
		if b.User == user {
			return ErrAlreadyBound
		}
	}
	for _, b := range s.bindings {
		if b.ID == id {
			return ErrIdentityTaken
		}
	}
	next := make([]storage.Binding, len(s.bindings), len(s.bindings)+1)
	copy(next, s.bindings)
	next = append(next, storage.Binding{User: user, ID: id, Name: strings.TrimSpace(name)})
	if err := s.store.SaveBindings(ctx, next); err != nil {
		return err
	}
	s.bindings = next
	return nil
}

// Unbind removes the user's binding and returns it.
func (s *Service) Unbind(ctx context.Context, user string) (storage.Binding, error) {
	user = strings.TrimSpace(user)
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	idx := -1
	for i, b := range s.bindings {
		if b.User == user {
			idx = i
			break
		}
	}
	if idx < 0 {
		return storage.Binding{}, ErrNotFound
	}
	removed := s.bindings[idx]
	next := make([]storage.Binding, 0, len(s.bindings)-1)
	next = append(next, s.bindings[:idx]...)
	next = append(next, s.bindings[idx+1:]...)
	if err := s.store.SaveBindings(ctx, next); err != nil {
		return storage.Binding{}, err
	}
	s.bindings = next
	return removed, nil
}

// Binding returns the identity bound to user.
func (s *Service) Binding(user string) (steamid.ID, bool) {
	b, ok := s.BindingOf(user)
	return b.ID, ok
}

func (s *Service) BindingOf(user string) (storage.Binding, bool) {
	user = strings.TrimSpace(user)
	s.bindMu.RLock()
	defer s.bindMu.RUnlock()
	for _, b := range s.bindings {
		if b.User == user {
			return b, true
		}
	}
	return storage.Binding{}, false
}

// UsersByName returns users whose recorded display name equals name,
// ignoring case.
func (s *Service) UsersByName(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.bindMu.RLock()
	defer s.bindMu.RUnlock()
	var out []string
	for _, b := range s.bindings {
		if b.Name != "" && strings.EqualFold(b.Name, name) {
			out = append(out, b.User)
		}
	}
	return out
}

// UsersOf returns the bindings that point at id, in bind order.
func (s *Service) UsersOf(id steamid.ID) []storage.Binding {
	s.bindMu.RLock()
	defer s.bindMu.RUnlock()
	var out []storage.Binding
	for _, b := range s.bindings {
		if b.ID == id {
			out = append(out, b)
		}
	}
	return out
}

func (s *Service) Bindings() []storage.Binding {
	s.bindMu.RLock()
	defer s.bindMu.RUnlock()
	return append([]storage.Binding(nil), s.bindings...)
}
