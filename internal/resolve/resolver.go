package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

// Requester is the caller of a command, implemented once per transport.
type Requester interface {
	RequesterID() string
	RawText() string
}

// Bindings is the read side of the user to identity store.
type Bindings interface {
	Binding(user string) (steamid.ID, bool)
	UsersByName(name string) []string
}

// Lookup is the network side of resolution.
type Lookup interface {
	ResolveVanity(ctx context.Context, name string) (steamid.ID, bool, error)
	FollowLink(ctx context.Context, link string) (string, error)
}

var (
	selfTokens    = map[string]struct{}{"me": {}, "self": {}, "我": {}, "自己": {}}
	bareVanity    = regexp.MustCompile(`^[A-Za-z0-9_-]{2,32}$`)
	maxShortDigit = 10
)

// Resolver turns user-supplied identifiers into canonical identities.
type Resolver struct {
	binds  Bindings
	lookup Lookup
	cache  *cache.Cache
	log    logx.Logger
}

// New builds a Resolver. Vanity and short-link answers are cached for ttl;
// ttl <= 0 disables the cache.
func New(binds Bindings, lookup Lookup, ttl time.Duration, log logx.Logger) *Resolver {
	r := &Resolver{binds: binds, lookup: lookup, log: log.With(logx.String("comp", "resolve"))}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// Resolve classifies input and returns its SteamID64. The first matching
// shape wins: self token, mention, 17-digit ID, profile URL, friend code,
// short account number, vanity, short link. An empty input falls back to a
// mention found in the requester's raw message.
func (r *Resolver) Resolve(ctx context.Context, input string, req Requester) (steamid.ID, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		if req != nil {
			if user, ok := findMention(req.RawText()); ok {
				return r.bindingOf(user)
			}
		}
		return 0, ErrInvalidInput
	}

	if _, ok := selfTokens[strings.ToLower(raw)]; ok {
		if req == nil {
			return 0, ErrNotBound
		}
		id, ok := r.binds.Binding(req.RequesterID())
		if !ok {
			return 0, ErrNotBound
		}
		return id, nil
	}

	if user, ok := MentionedUser(raw); ok {
		return r.bindingOf(user)
	}
	if strings.HasPrefix(raw, "@") && len(raw) > 1 {
		return r.byDisplayName(raw[1:])
	}

	if id, ok := r.classifyStatic(raw); ok {
		return id, nil
	}
	if steamid.FriendCodePattern.MatchString(raw) {
		id, err := steamid.DecodeFriendCode(raw)
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	if steamid.IsDigits(raw) && len(raw) <= maxShortDigit {
		id, err := steamid.Parse(raw)
		if err != nil {
			return 0, ErrInvalidInput
		}
		return steamid.FromAccount(uint64(id)), nil
	}

	if name, ok := steamid.MatchVanity(raw); ok {
		return r.vanity(ctx, name)
	}
	if isHTTPURL(raw) {
		return r.shortLink(ctx, raw)
	}
	if bareVanity.MatchString(raw) {
		return r.vanity(ctx, raw)
	}
	return 0, ErrInvalidInput
}

// classifyStatic covers the shapes that carry a full SteamID64.
func (r *Resolver) classifyStatic(raw string) (steamid.ID, bool) {
	if len(raw) == 17 && steamid.IsDigits(raw) {
		id, err := steamid.Parse(raw)
		return id, err == nil
	}
	return steamid.MatchProfile(raw)
}

func (r *Resolver) bindingOf(user string) (steamid.ID, error) {
	id, ok := r.binds.Binding(user)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoBindingForUser, user)
	}
	return id, nil
}

func (r *Resolver) byDisplayName(name string) (steamid.ID, error) {
	users := r.binds.UsersByName(name)
	switch len(users) {
	case 0:
		return 0, fmt.Errorf("%w: %s", ErrNoBindingForUser, name)
	case 1:
		return r.bindingOf(users[0])
	default:
		return 0, fmt.Errorf("%w: %s", ErrAmbiguousName, name)
	}
}

func (r *Resolver) vanity(ctx context.Context, name string) (steamid.ID, error) {
	key := "vanity:" + strings.ToLower(name)
	if id, ok := r.cached(key); ok {
		return id, nil
	}
	if r.lookup == nil {
		return 0, ErrNoAPIKey
	}
	id, found, err := r.lookup.ResolveVanity(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNoAPIKey) {
			return 0, ErrNoAPIKey
		}
		r.log.Warn("vanity lookup failed", logx.String("vanity", name), logx.Err(err))
		if errors.Is(err, ErrUpstreamUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrVanityNotFound, name)
	}
	r.store(key, id)
	return id, nil
}

func (r *Resolver) shortLink(ctx context.Context, link string) (steamid.ID, error) {
	link = strings.TrimRight(link, "/")
	key := "link:" + link
	if id, ok := r.cached(key); ok {
		return id, nil
	}
	if r.lookup == nil {
		return 0, ErrShortLinkUnresolved
	}
	final, err := r.lookup.FollowLink(ctx, link)
	if err != nil {
		r.log.Debug("short link dereference failed", logx.String("url", link), logx.Err(err))
		return 0, fmt.Errorf("%w: %v", ErrShortLinkUnresolved, err)
	}

	var id steamid.ID
	switch {
	case matchProfileID(final, &id):
	case matchFriendCodeSegment(final, &id):
	default:
		name, ok := steamid.MatchVanity(final)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrShortLinkUnresolved, final)
		}
		if id, err = r.vanity(ctx, name); err != nil {
			return 0, err
		}
	}
	r.store(key, id)
	return id, nil
}

func matchProfileID(s string, out *steamid.ID) bool {
	id, ok := steamid.MatchProfile(s)
	if ok {
		*out = id
	}
	return ok
}

func matchFriendCodeSegment(s string, out *steamid.ID) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if !steamid.FriendCodePattern.MatchString(seg) {
		return false
	}
	id, err := steamid.DecodeFriendCode(seg)
	if err != nil {
		return false
	}
	*out = id
	return true
}

func isHTTPURL(s string) bool {
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != "" && strings.Contains(s[len(u.Scheme)+3:], "/")
}

func (r *Resolver) cached(key string) (steamid.ID, bool) {
	if r.cache == nil {
		return 0, false
	}
	v, ok := r.cache.Get(key)
	if !ok {
		return 0, false
	}
	id, ok := v.(steamid.ID)
	return id, ok
}

func (r *Resolver) store(key string, id steamid.ID) {
	if r.cache != nil {
		r.cache.SetDefault(key, id)
	}
}
