package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
steam:
  api_key: "k"
  poll_interval: 45s
  request_retries: 0
  verify_ssl: false
watch:
  notify_on_stop: true
notify:
  group_enabled: true
  default_platform: discord
admins:
  user_ids: ["42"]
storage:
  driver: sqlite
  sqlite:
    path: /tmp/sw.db
`

func TestParseYAMLAndAccessors(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 45*time.Second, cfg.PollInterval())
	assert.Equal(t, 0, cfg.RequestRetries())
	assert.False(t, cfg.VerifySSL())
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout())
	assert.Equal(t, DefaultRetryDelay, cfg.RequestRetryDelay())
	assert.Equal(t, "discord", cfg.NotifyPlatform())
	assert.Equal(t, DefaultKind, cfg.NotifyKind())
	assert.True(t, cfg.Watch.NotifyOnStop)
	assert.True(t, cfg.IsAdmin("42"))
	assert.False(t, cfg.IsAdmin("7"))
	assert.False(t, cfg.IsAdmin(""))
}

func TestDefaultsWhenOmitted(t *testing.T) {
	cfg, err := ParseBytes("config.json", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval())
	assert.Equal(t, DefaultRequestRetries, cfg.RequestRetries())
	assert.True(t, cfg.VerifySSL())
	assert.True(t, cfg.LogConsole())
	assert.True(t, cfg.IsAdmin("anyone"), "empty admin list grants everyone")
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	_, err := ParseBytes("c.json", []byte(`{"steam":{"nope":1}}`))
	assert.Error(t, err)

	_, err = ParseBytes("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"interval too short", `{"steam":{"poll_interval":"10s"}}`},
		{"bad duration", `{"notify":{"retry_base":"soon"}}`},
		{"negative duration", `{"steam":{"request_timeout":"-1s"}}`},
		{"bad driver", `{"storage":{"driver":"mongo"}}`},
		{"bad proxy", `{"steam":{"proxy_url":"not a url"}}`},
		{"bad level", `{"logging":{"level":"loud"}}`},
		{"alert without audience", `{"logging":{"alert":{"enabled":true}}}`},
		{"bad timezone", `{"maintenance":{"timezone":"Mars/Olympus"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseBytes("c.json", []byte(tc.json))
			require.NoError(t, err)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "from-env")
	cfg, err := ParseBytes("c.json", []byte(`{"steam":{"api_key":"file"}}`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Steam.APIKey)
}

func TestSummarizeConfigChange(t *testing.T) {
	a, err := ParseBytes("c.json", []byte(`{"steam":{"api_key":"x"}}`))
	require.NoError(t, err)
	b, err := ParseBytes("c.json", []byte(`{"steam":{"api_key":"y"},"watch":{"notify_on_stop":true},"observability":{"token":"t"}}`))
	require.NoError(t, err)

	changed, fields := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"steam", "watch", "observability"}, changed)
	assert.NotEmpty(t, fields)

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestManagerWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"watch":{"notify_on_stop":false}}`), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"watch":{"notify_on_stop":true}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.True(t, cfg.Watch.NotifyOnStop)
		assert.True(t, m.Get().Watch.NotifyOnStop)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	cancel()
	<-done
}
