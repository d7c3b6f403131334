package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/state"
	"steamwatch/internal/steamid"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/pkg/logx"
)

func intp(v int) *int { return &v }

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	nc := mapNotifierConfig(cfg)
	assert.Equal(t, 2, nc.RetryMax)
	assert.Zero(t, nc.DedupWindow)

	cfg.Notify.RetryMax = intp(0)
	cfg.Notify.RetryBase = "250ms"
	cfg.Notify.DedupWindow = "5m"
	cfg.Notify.GroupEnabled = true
	nc = mapNotifierConfig(cfg)
	assert.Equal(t, 0, nc.RetryMax)
	assert.Equal(t, 250*time.Millisecond, nc.RetryBase)
	assert.Equal(t, 5*time.Minute, nc.DedupWindow)
	assert.True(t, nc.GroupEnabled)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, "./data", sc.Dir)

	cfg := &config.Config{}
	cfg.Storage.Driver = "sqlite"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)

	cfg.Storage.SQLite.Path = "/tmp/sw.db"
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	cfg.Storage.Driver = "redis"
	_, err = mapStorageConfig(cfg)
	assert.Error(t, err)
}

func TestMapLogConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Logging.Level = "warn"
	assert.Equal(t, "warn", mapLogConfig(cfg, "").Level)
	assert.Equal(t, "error", mapLogConfig(cfg, "error").Level)
	assert.True(t, mapLogConfig(cfg, "").Console)

	cfg.Steam.DebugLog = true
	assert.Equal(t, "debug", mapLogConfig(cfg, "error").Level)

	// alert without an audience stays off
	cfg.Logging.Alert.Enabled = true
	assert.False(t, mapLogConfig(cfg, "").Alert.Enabled)
	cfg.Logging.Alert.Audience = "telegram:GroupMessage:-100"
	assert.True(t, mapLogConfig(cfg, "").Alert.Enabled)
}

func TestValidateMaintenance(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	assert.NoError(t, validateMaintenance(cfg))
	cfg.Maintenance.SubClean = "04:00"
	cfg.Maintenance.AuditPrune = "24h"
	assert.NoError(t, validateMaintenance(cfg))
	cfg.Maintenance.AuditPrune = "whenever"
	assert.ErrorContains(t, validateMaintenance(cfg), "maintenance.audit_prune")
}

func newMaintenance(t *testing.T, seed func(storage.Store)) (*maintenance, storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "file", Dir: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	if seed != nil {
		seed(store)
	}
	norm := notifier.Normalizer{DefaultPlatform: "telegram", DefaultKind: "GroupMessage"}
	st := state.New(store, norm, logx.Nop())
	require.NoError(t, st.Load(context.Background()))

	cfg := &config.Config{}
	cfg.Maintenance.AuditRetention = "24h"
	return &maintenance{
		state: st,
		store: store,
		norm:  func() notifier.Normalizer { return norm },
		cfg:   func() *config.Config { return cfg },
		log:   logx.Nop(),
		now:   time.Now,
	}, store
}

func TestSubCleanNormalizesStoredAudiences(t *testing.T) {
	ctx := context.Background()
	m, store := newMaintenance(t, func(s storage.Store) {
		require.NoError(t, s.SaveAudiences(ctx,
			[]string{"-100", "telegram:GroupMessage:-100", " "},
			map[string][]string{"raid": {"GroupMessage:-200"}, "empty": {""}}))
	})

	require.NoError(t, m.subClean(ctx))
	assert.Equal(t, []string{"telegram:GroupMessage:-100"}, m.state.GlobalAudiences())
	assert.Equal(t, []string{"raid"}, m.state.Groups())

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"telegram:GroupMessage:-200"}, persisted.Groups["raid"])
}

func TestAuditPruneUsesRetention(t *testing.T) {
	ctx := context.Background()
	m, store := newMaintenance(t, nil)
	now := time.Now().UTC()
	require.NoError(t, store.AppendAudit(ctx, storage.AuditEntry{At: now.Add(-48 * time.Hour), Actor: "1", Action: "add", OK: true}))
	require.NoError(t, store.AppendAudit(ctx, storage.AuditEntry{At: now.Add(-time.Hour), Actor: "1", Action: "sub", OK: true}))

	require.NoError(t, m.auditPrune(ctx))
	n, err := store.PruneAudit(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMaintenanceApplyRegistersJobs(t *testing.T) {
	m, _ := newMaintenance(t, nil)
	s := scheduler.New(scheduler.Config{}, logx.Nop(), nil)

	cfg := &config.Config{}
	cfg.Maintenance.SubClean = "03:30"
	require.NoError(t, m.apply(s, cfg))
	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, jobSubClean, snap.Schedules[0].Name)

	require.NoError(t, s.RunNow(context.Background(), jobSubClean))

	cfg.Maintenance.SubClean = ""
	cfg.Maintenance.AuditPrune = "12h"
	require.NoError(t, m.apply(s, cfg))
	snap = s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, jobAuditPrune, snap.Schedules[0].Name)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppLifecycleWithoutTransports(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `{
		"steam": {"poll_interval": "45s"},
		"logging": {"level": "error", "console": false},
		"storage": {"driver": "file", "file": {"dir": "`+filepath.ToSlash(dir)+`"}},
		"maintenance": {"subclean": "04:00"}
	}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(ctx, Options{ConfigPath: path})
	require.NoError(t, err)
	assert.Empty(t, a.adapters)
	assert.Equal(t, 45*time.Second, a.pollInterval())

	// a persisted /sw interval wins over the file
	require.NoError(t, a.state.SetSetting(ctx, state.SettingPollInterval, "2m0s"))
	assert.Equal(t, 2*time.Minute, a.pollInterval())
	require.NoError(t, a.state.SetSetting(ctx, state.SettingPollInterval, "5s"))
	assert.Equal(t, 45*time.Second, a.pollInterval())

	_, err = a.state.AddWatch(ctx, steamid.ID(76561197960287930), "")
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	assert.Len(t, a.sched.Snapshot().Schedules, 1)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))

	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after Stop")
	}
}

func TestNewRejectsBadMaintenanceSchedule(t *testing.T) {
	path := writeConfig(t, `{"storage": {"file": {"dir": "`+filepath.ToSlash(t.TempDir())+`"}}, "maintenance": {"audit_prune": "sometimes"}}`)
	_, err := New(context.Background(), Options{ConfigPath: path})
	assert.ErrorContains(t, err, "maintenance.audit_prune")
}

func TestApplyConfigUpdatesLiveComponents(t *testing.T) {
	path := writeConfig(t, `{"logging": {"console": false}, "storage": {"file": {"dir": "`+filepath.ToSlash(t.TempDir())+`"}}}`)
	ctx := context.Background()
	a, err := New(ctx, Options{ConfigPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })
	assert.Empty(t, a.sched.Snapshot().Schedules)

	events, unsub := a.bus.Subscribe(4, "config.")
	defer unsub()

	next, err := config.ParseBytes(path, []byte(`{
		"notify": {"default_platform": "discord", "default_kind": "FriendMessage"},
		"maintenance": {"subclean": "6h", "audit_prune": "04:00"}
	}`))
	require.NoError(t, err)
	a.cfgm.Commit(next)

	sub := make(chan *config.Config, 1)
	sub <- next
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		a.reloadLoop(loopCtx, sub)
		close(done)
	}()

	select {
	case ev := <-events:
		assert.Contains(t, ev.Data.([]string), "maintenance")
	case <-time.After(2 * time.Second):
		t.Fatal("no config.reloaded event")
	}
	cancel()
	<-done

	assert.Len(t, a.sched.Snapshot().Schedules, 2)
	assert.Equal(t, "discord", a.router.Normalizer().DefaultPlatform)
	aud, _, _ := a.state.SubscriptionsOf("42")
	assert.Equal(t, "discord:FriendMessage:42", aud)
}
