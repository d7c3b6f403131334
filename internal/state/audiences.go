package state

import (
	"context"

	"steamwatch/internal/notifier"
)

// SetNormalizer changes the defaults used for newly stored audiences.
func (s *Service) SetNormalizer(n notifier.Normalizer) {
	s.audMu.Lock()
	s.norm = n
	s.audMu.Unlock()
}

// Subscribe adds raw to the global audiences. It returns the canonical
// audience and whether it was new.
func (s *Service) Subscribe(ctx context.Context, raw string) (string, bool, error) {
	s.audMu.Lock()
	defer s.audMu.Unlock()

	aud, ok := s.norm.NormalizeString(raw)
	if !ok {
		return "", false, ErrInvalidAudience
	}
	if contains(s.global, aud) {
		return aud, false, nil
	}
	next := append(append([]string(nil), s.global...), aud)
	if err := s.store.SaveAudiences(ctx, next, s.groups); err != nil {
		return "", false, err
	}
	s.global = next
	return aud, true, nil
}

func (s *Service) Unsubscribe(ctx context.Context, raw string) (string, bool, error) {
	s.audMu.Lock()
	defer s.audMu.Unlock()

	aud, ok := s.norm.NormalizeString(raw)
	if !ok {
		return "", false, ErrInvalidAudience
	}
	if !contains(s.global, aud) {
		return aud, false, nil
	}
	next := without(s.global, aud)
	if err := s.store.SaveAudiences(ctx, next, s.groups); err != nil {
		return "", false, err
	}
	s.global = next
	return aud, true, nil
}

func (s *Service) SubscribeGroup(ctx context.Context, group, raw string) (string, bool, error) {
	group = cleanGroup(group)
	if group == "" {
		return "", false, ErrInvalidGroup
	}
	s.audMu.Lock()
	defer s.audMu.Unlock()

	aud, ok := s.norm.NormalizeString(raw)
	if !ok {
		return "", false, ErrInvalidAudience
	}
	if contains(s.groups[group], aud) {
		return aud, false, nil
	}
	next := copyGroups(s.groups)
	next[group] = append(next[group], aud)
	if err := s.store.SaveAudiences(ctx, s.global, next); err != nil {
		return "", false, err
	}
	s.groups = next
	return aud, true, nil
}

// UnsubscribeGroup removes raw from group. A group left empty is removed.
func (s *Service) UnsubscribeGroup(ctx context.Context, group, raw string) (string, bool, error) {
	group = cleanGroup(group)
	s.audMu.Lock()
	defer s.audMu.Unlock()

	aud, ok := s.norm.NormalizeString(raw)
	if !ok {
		return "", false, ErrInvalidAudience
	}
	if !contains(s.groups[group], aud) {
		return aud, false, nil
	}
	next := copyGroups(s.groups)
	if rest := without(next[group], aud); len(rest) > 0 {
		next[group] = rest
	} else {
		delete(next, group)
	}
	if err := s.store.SaveAudiences(ctx, s.global, next); err != nil {
		return "", false, err
	}
	s.groups = next
	return aud, true, nil
}

func (s *Service) GlobalAudiences() []string {
	s.audMu.RLock()
	defer s.audMu.RUnlock()
	return append([]string(nil), s.global...)
}

func (s *Service) GroupAudiences(group string) []string {
	s.audMu.RLock()
	defer s.audMu.RUnlock()
	return append([]string(nil), s.groups[cleanGroup(group)]...)
}

// Groups returns group names in sorted order.
func (s *Service) Groups() []string {
	s.audMu.RLock()
	defer s.audMu.RUnlock()
	return sortedKeys(s.groups)
}

// SubscriptionsOf reports where an audience is subscribed.
func (s *Service) SubscriptionsOf(raw string) (aud string, global bool, groups []string) {
	s.audMu.RLock()
	defer s.audMu.RUnlock()
	aud, ok := s.norm.NormalizeString(raw)
	if !ok {
		return "", false, nil
	}
	global = contains(s.global, aud)
	for _, g := range sortedKeys(s.groups) {
		if contains(s.groups[g], aud) {
			groups = append(groups, g)
		}
	}
	return aud, global, groups
}

// NormalizeAudiences rewrites every stored audience through norm, dropping
// duplicates, invalid entries and empty groups.
func (s *Service) NormalizeAudiences(ctx context.Context, norm notifier.Normalizer) (before, after Counts, err error) {
	s.audMu.Lock()
	defer s.audMu.Unlock()

	before = countOf(s.global, s.groups)
	global, _ := norm.NormalizeList(s.global)
	groups := map[string][]string{}
	for g, list := range s.groups {
		if clean, _ := norm.NormalizeList(list); len(clean) > 0 {
			groups[g] = clean
		}
	}
	if err := s.store.SaveAudiences(ctx, global, groups); err != nil {
		return before, before, err
	}
	s.global, s.groups = global, groups
	return before, countOf(global, groups), nil
}

func countOf(global []string, groups map[string][]string) Counts {
	c := Counts{Global: len(global)}
	for _, l := range groups {
		c.Groups += len(l)
	}
	return c
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func copyGroups(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
