package app

import (
	"fmt"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/observability"
	"steamwatch/internal/steamapi"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/pkg/logx"
)

// Component configs are derived from a validated *config.Config, so
// duration fields here only fall back to defaults and never fail.

func mapLogConfig(cfg *config.Config, levelOverride string) logx.Config {
	level := cfg.Logging.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	if cfg.Steam.DebugLog {
		level = "debug"
	}
	return logx.Config{
		Level:   level,
		Console: cfg.LogConsole(),
		Pretty:  cfg.Logging.Pretty,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.Audience) != "",
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		dir := strings.TrimSpace(sc.File.Dir)
		if dir == "" {
			dir = "./data"
		}
		return storage.Config{Driver: "file", Dir: dir}, nil
	case "sqlite":
		path := strings.TrimSpace(sc.SQLite.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.sqlite.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.sqlite.busy_timeout", sc.SQLite.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSteamConfig(cfg *config.Config) steamapi.Config {
	return steamapi.Config{
		APIKey:     cfg.Steam.APIKey,
		BaseURL:    cfg.Steam.BaseURL,
		Timeout:    cfg.RequestTimeout(),
		Retries:    cfg.RequestRetries(),
		RetryDelay: cfg.RequestRetryDelay(),
		ProxyURL:   cfg.Steam.ProxyURL,
		VerifySSL:  cfg.VerifySSL(),
		Debug:      cfg.Steam.DebugLog,
	}
}

func mapNormalizer(cfg *config.Config) notifier.Normalizer {
	return notifier.Normalizer{DefaultPlatform: cfg.NotifyPlatform(), DefaultKind: cfg.NotifyKind()}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notify
	retryMax := 2
	if n.RetryMax != nil {
		retryMax = *n.RetryMax
	}
	return notifier.Config{
		GroupEnabled:  n.GroupEnabled,
		RatePerSec:    n.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     durationOf(n.RetryBase),
		RetryMaxDelay: durationOf(n.RetryMaxDelay),
		SendTimeout:   durationOf(n.SendTimeout),
		DedupWindow:   durationOf(n.DedupWindow),
	}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	o := cfg.Observability
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   durationOf(o.ReadTimeout),
		WriteTimeout:  durationOf(o.WriteTimeout),
		IdleTimeout:   durationOf(o.IdleTimeout),
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Maintenance.Timezone}
}

func durationOf(raw string) time.Duration {
	d, err := config.ParseDurationField("", raw)
	if err != nil {
		return 0
	}
	return d
}
