package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/notifier"
	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
	"steamwatch/pkg/logx"
)

// memStore is an in-memory storage.Store that can be told to fail writes.
type memStore struct {
	st   storage.State
	fail error
	logs []storage.AuditEntry
}

func (m *memStore) Load(context.Context) (storage.State, error) { return m.st, nil }

func (m *memStore) SaveWatch(_ context.Context, e []storage.WatchEntry) error {
	if m.fail != nil {
		return m.fail
	}
	m.st.Watch = append([]storage.WatchEntry(nil), e...)
	return nil
}

func (m *memStore) SaveBindings(_ context.Context, b []storage.Binding) error {
	if m.fail != nil {
		return m.fail
	}
	m.st.Bindings = append([]storage.Binding(nil), b...)
	return nil
}

func (m *memStore) SaveAudiences(_ context.Context, g []string, gr map[string][]string) error {
	if m.fail != nil {
		return m.fail
	}
	m.st.Global = append([]string(nil), g...)
	m.st.Groups = copyGroups(gr)
	return nil
}

func (m *memStore) SaveSetting(_ context.Context, k, v string) error {
	if m.fail != nil {
		return m.fail
	}
	if m.st.Settings == nil {
		m.st.Settings = map[string]string{}
	}
	m.st.Settings[k] = v
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.logs = append(m.logs, e)
	return nil
}

func (m *memStore) PruneAudit(context.Context, time.Time) (int, error) { return 0, nil }
func (m *memStore) PutDedup(context.Context, string, time.Time) error  { return nil }
func (m *memStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (m *memStore) Close() error { return nil }

var (
	errDisk = errors.New("disk full")
	norm    = notifier.Normalizer{DefaultPlatform: "telegram", DefaultKind: "GroupMessage"}
)

const (
	idA steamid.ID = 76561197960287930
	idB steamid.ID = 76561198000000000
)

func newService(t *testing.T, st storage.State) (*Service, *memStore) {
	t.Helper()
	m := &memStore{st: st}
	s := New(m, norm, logx.Nop())
	require.NoError(t, s.Load(context.Background()))
	return s, m
}

func TestWatchAddRemove(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t, storage.State{})

	added, err := s.AddWatch(ctx, idA, " raid ")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddWatch(ctx, idB, "")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddWatch(ctx, idA, "other")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []steamid.ID{idA, idB}, s.WatchedIDs())
	assert.Equal(t, "raid", s.GroupOf(idA))
	assert.Equal(t, "", s.GroupOf(idB))
	assert.Equal(t, s.Watched(), m.st.Watch)

	removed, err := s.RemoveWatch(ctx, idA)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "", s.GroupOf(idA))
	removed, err = s.RemoveWatch(ctx, idA)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestMutationRollsBackOnPersistError(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t, storage.State{Watch: []storage.WatchEntry{{ID: idA}}})
	m.fail = errDisk

	_, err := s.AddWatch(ctx, idB, "")
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, []steamid.ID{idA}, s.WatchedIDs())

	_, err = s.RemoveWatch(ctx, idA)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, s.IsWatched(idA))

	assert.ErrorIs(t, s.Bind(ctx, "u1", idA, "alice"), errDisk)
	_, ok := s.Binding("u1")
	assert.False(t, ok)

	_, _, err = s.Subscribe(ctx, "-100")
	assert.ErrorIs(t, err, errDisk)
	assert.Empty(t, s.GlobalAudiences())

	assert.ErrorIs(t, s.SetSetting(ctx, "poll_interval", "45s"), errDisk)
	assert.Empty(t, s.Setting("poll_interval"))
}

func TestBindConflicts(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t, storage.State{})

	require.NoError(t, s.Bind(ctx, "u1", idA, "Alice"))
	assert.ErrorIs(t, s.Bind(ctx, "u1", idB, "Alice"), ErrAlreadyBound)
	assert.ErrorIs(t, s.Bind(ctx, "u2", idA, "Bob"), ErrIdentityTaken)
	assert.Len(t, m.st.Bindings, 1)

	id, ok := s.Binding("u1")
	require.True(t, ok)
	assert.Equal(t, idA, id)
	assert.Equal(t, []string{"u1"}, s.UsersByName("alice"))
	assert.Len(t, s.UsersOf(idA), 1)

	b, err := s.Unbind(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", b.Name)
	_, err = s.Unbind(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Bind(ctx, "u2", idA, ""))
}

func TestAudiences(t *testing.T) {
	ctx := context.Background()
	s, m := newService(t, storage.State{})

	aud, added, err := s.Subscribe(ctx, "-100")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "telegram:GroupMessage:-100", aud)

	_, added, err = s.Subscribe(ctx, "group:-100")
	require.NoError(t, err)
	assert.False(t, added)

	_, _, err = s.Subscribe(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidAudience)

	_, added, err = s.SubscribeGroup(ctx, "raid", "discord:group:9")
	require.NoError(t, err)
	assert.True(t, added)
	_, _, err = s.SubscribeGroup(ctx, " ", "9")
	assert.ErrorIs(t, err, ErrInvalidGroup)

	assert.Equal(t, []string{"raid"}, s.Groups())
	assert.Equal(t, []string{"discord:GroupMessage:9"}, m.st.Groups["raid"])

	_, global, groups := s.SubscriptionsOf("discord:GroupMessage:9")
	assert.False(t, global)
	assert.Equal(t, []string{"raid"}, groups)

	_, removed, err := s.UnsubscribeGroup(ctx, "raid", "discord:GroupMessage:9")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.Groups())

	_, removed, err = s.Unsubscribe(ctx, "-100")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.GlobalAudiences())
}

func TestNormalizeAudiences(t *testing.T) {
	s, m := newService(t, storage.State{
		Global: []string{"1", "telegram:group:1", "", "friend:2"},
		Groups: map[string][]string{
			"raid":  {"3", "group:3"},
			"empty": {" "},
		},
	})

	before, after, err := s.NormalizeAudiences(context.Background(), norm)
	require.NoError(t, err)
	assert.Equal(t, Counts{Global: 4, Groups: 3}, before)
	assert.Equal(t, Counts{Global: 2, Groups: 1}, after)
	assert.Equal(t, []string{"telegram:GroupMessage:1", "telegram:FriendMessage:2"}, m.st.Global)
	assert.Equal(t, []string{"raid"}, s.Groups())

	// idempotent
	before, after, err = s.NormalizeAudiences(context.Background(), norm)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
