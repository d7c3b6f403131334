package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/steamapi"
	"steamwatch/internal/steamid"
	"steamwatch/pkg/logx"
)

type fakeBinds struct {
	ids   map[string]steamid.ID
	names map[string]string
}

func (f fakeBinds) Binding(user string) (steamid.ID, bool) {
	id, ok := f.ids[user]
	return id, ok
}

func (f fakeBinds) UsersByName(name string) []string {
	var out []string
	for u, n := range f.names {
		if n == name {
			out = append(out, u)
		}
	}
	return out
}

type fakeLookup struct {
	vanity    map[string]steamid.ID
	vanityErr error
	links     map[string]string
	calls     int
}

func (f *fakeLookup) ResolveVanity(_ context.Context, name string) (steamid.ID, bool, error) {
	f.calls++
	if f.vanityErr != nil {
		return 0, false, f.vanityErr
	}
	id, ok := f.vanity[name]
	return id, ok, nil
}

func (f *fakeLookup) FollowLink(_ context.Context, link string) (string, error) {
	f.calls++
	final, ok := f.links[link]
	if !ok {
		return "", errors.New("dial tcp: connection refused")
	}
	return final, nil
}

type req struct{ id, text string }

func (r req) RequesterID() string { return r.id }
func (r req) RawText() string     { return r.text }

const (
	idA steamid.ID = 76561197960287930
	idB steamid.ID = 76561198000000000
)

func newResolver(lookup *fakeLookup) *Resolver {
	binds := fakeBinds{
		ids:   map[string]steamid.ID{"u1": idA, "555": idB, "u3": idB},
		names: map[string]string{"u1": "alice", "u3": "bob", "u4": "bob", "u9": "ghost"},
	}
	if lookup == nil {
		lookup = &fakeLookup{}
	}
	return New(binds, lookup, time.Minute, logx.Nop())
}

func TestResolveShapes(t *testing.T) {
	code, err := steamid.EncodeFriendCode(idA)
	require.NoError(t, err)

	lookup := &fakeLookup{
		vanity: map[string]steamid.ID{"gaben": idA},
		links: map[string]string{
			"https://s.team/p/xyz":  "https://steamcommunity.com/profiles/76561198000000000/",
			"https://bit.ly/abc":    "https://steamcommunity.com/id/gaben/",
			"https://s.team/p/code": "https://s.team/p/" + code,
		},
	}
	r := newResolver(lookup)
	me := req{id: "u1"}

	cases := []struct {
		in   string
		want steamid.ID
	}{
		{"me", idA},
		{"SELF", idA},
		{"我", idA},
		{"@555", idB},
		{"@whoever(555)", idB},
		{"[At:555]", idB},
		{"[CQ:at,qq=555]", idB},
		{"<@!555>", idB},
		{"tg://user?id=555", idB},
		{"@alice", idA},
		{"76561198000000000", idB},
		{"https://steamcommunity.com/profiles/76561197960287930", idA},
		{code, idA},
		{"22202", idA},
		{"https://steamcommunity.com/id/gaben/", idA},
		{"gaben", idA},
		{"https://s.team/p/xyz", idB},
		{"https://bit.ly/abc", idA},
		{"https://s.team/p/code", idA},
	}
	for _, tc := range cases {
		got, err := r.Resolve(context.Background(), tc.in, me)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestSeventeenDigitsNeverShortAccount(t *testing.T) {
	r := newResolver(nil)
	got, err := r.Resolve(context.Background(), "76561197960287930", req{})
	require.NoError(t, err)
	assert.Equal(t, idA, got)

	got, err = r.Resolve(context.Background(), "1234567890", req{})
	require.NoError(t, err)
	assert.Equal(t, steamid.FromAccount(1234567890), got)
}

func TestResolveErrors(t *testing.T) {
	lookup := &fakeLookup{vanity: map[string]steamid.ID{}, links: map[string]string{
		"https://example.com/x": "https://example.com/landing",
	}}
	r := newResolver(lookup)

	cases := []struct {
		in   string
		req  Requester
		want error
	}{
		{"me", req{id: "nobody"}, ErrNotBound},
		{"me", nil, ErrNotBound},
		{"@999", req{}, ErrNoBindingForUser},
		{"@bob", req{}, ErrAmbiguousName},
		{"@ghost", req{}, ErrNoBindingForUser},
		{"@carol", req{}, ErrNoBindingForUser},
		{"ABCDE-FGH1", req{}, ErrInvalidFriendCode},
		{"nosuchvanity", req{}, ErrVanityNotFound},
		{"https://example.com/x", req{}, ErrShortLinkUnresolved},
		{"https://example.com/broken", req{}, ErrShortLinkUnresolved},
		{"", req{text: "/sw query"}, ErrInvalidInput},
		{"not a thing!", req{}, ErrInvalidInput},
	}
	for _, tc := range cases {
		_, err := r.Resolve(context.Background(), tc.in, tc.req)
		assert.ErrorIs(t, err, tc.want, tc.in)
		assert.NotEmpty(t, Message(err))
	}
}

func TestResolveFallsBackToMentionInRawText(t *testing.T) {
	r := newResolver(nil)
	got, err := r.Resolve(context.Background(), "  ", req{text: "/sw query [CQ:at,qq=555]"})
	require.NoError(t, err)
	assert.Equal(t, idB, got)
}

func TestVanityErrorsAndCache(t *testing.T) {
	lookup := &fakeLookup{vanityErr: steamapi.ErrNoAPIKey}
	r := newResolver(lookup)
	_, err := r.Resolve(context.Background(), "gaben", req{})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	lookup.vanityErr = errors.New("timeout")
	_, err = r.Resolve(context.Background(), "gaben", req{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, "Could not fetch data from Steam. Try again later.", Message(err))

	lookup.vanityErr = nil
	lookup.vanity = map[string]steamid.ID{"gaben": idA}
	lookup.calls = 0
	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), "gaben", req{})
		require.NoError(t, err)
		assert.Equal(t, idA, got)
	}
	assert.Equal(t, 1, lookup.calls, "vanity answer should be cached")
}

func TestMentionedUser(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"@123":             "123",
		"@nick name(77)":   "77",
		"[At:9]":           "9",
		"<@42>":            "42",
		"hello <@!42> bye": "42",
	} {
		got, ok := MentionedUser(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := MentionedUser("@alice")
	assert.False(t, ok)
}
