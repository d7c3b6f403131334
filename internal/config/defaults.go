package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

const (
	DefaultPollInterval    = 60 * time.Second
	MinPollInterval        = 30 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRequestRetries  = 2
	DefaultRetryDelay      = 2 * time.Second
	DefaultResolveCacheTTL = 10 * time.Minute
	DefaultAuditRetention  = 30 * 24 * time.Hour

	DefaultPlatform = "telegram"
	DefaultKind     = "GroupMessage"

	// EnvAPIKey overrides steam.api_key when set.
	EnvAPIKey = "STEAMWATCH_API_KEY"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.Steam.APIKey = v
	}
}

// Validate runs struct tag validation plus the checks tags cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs error
	if err := structValidator().Struct(cfg); err != nil {
		errs = multierr.Append(errs, err)
	}

	durs := []struct{ path, raw string }{
		{"steam.poll_interval", cfg.Steam.PollInterval},
		{"steam.request_timeout", cfg.Steam.RequestTimeout},
		{"steam.request_retry_delay", cfg.Steam.RequestRetryDelay},
		{"steam.resolve_cache_ttl", cfg.Steam.ResolveCacheTTL},
		{"notify.retry_base", cfg.Notify.RetryBase},
		{"notify.retry_max_delay", cfg.Notify.RetryMaxDelay},
		{"notify.send_timeout", cfg.Notify.SendTimeout},
		{"notify.dedup_window", cfg.Notify.DedupWindow},
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.sqlite.busy_timeout", cfg.Storage.SQLite.BusyTimeout},
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
		{"observability.idle_timeout", cfg.Observability.IdleTimeout},
		{"maintenance.audit_retention", cfg.Maintenance.AuditRetention},
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if d, err := ParseDurationField("steam.poll_interval", cfg.Steam.PollInterval); err == nil && d != 0 && d < MinPollInterval {
		errs = multierr.Append(errs, fmt.Errorf("steam.poll_interval: must be >= %s", MinPollInterval))
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance.timezone: %w", err))
		}
	}
	if cfg.Logging.Alert.Enabled && strings.TrimSpace(cfg.Logging.Alert.Audience) == "" {
		errs = multierr.Append(errs, fmt.Errorf("logging.alert.audience: required when alert is enabled"))
	}
	return errs
}

// PollInterval returns the configured interval or the default.
func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Steam.PollInterval, DefaultPollInterval)
}

func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Steam.RequestTimeout, DefaultRequestTimeout)
}

func (c *Config) RequestRetries() int { return intOr(c.Steam.RequestRetries, DefaultRequestRetries) }

func (c *Config) RequestRetryDelay() time.Duration {
	return durationOr(c.Steam.RequestRetryDelay, DefaultRetryDelay)
}

func (c *Config) VerifySSL() bool { return boolOr(c.Steam.VerifySSL, true) }

func (c *Config) ResolveCacheTTL() time.Duration {
	return durationOr(c.Steam.ResolveCacheTTL, DefaultResolveCacheTTL)
}

func (c *Config) AuditRetention() time.Duration {
	return durationOr(c.Maintenance.AuditRetention, DefaultAuditRetention)
}

func (c *Config) NotifyPlatform() string {
	if p := strings.TrimSpace(c.Notify.DefaultPlatform); p != "" {
		return p
	}
	return DefaultPlatform
}

func (c *Config) NotifyKind() string {
	if k := strings.TrimSpace(c.Notify.DefaultKind); k != "" {
		return k
	}
	return DefaultKind
}

func (c *Config) LogConsole() bool { return boolOr(c.Logging.Console, true) }

// IsAdmin reports whether userID may run admin commands.
func (c *Config) IsAdmin(userID string) bool {
	if len(c.Admins.UserIDs) == 0 {
		return true
	}
	userID = strings.TrimSpace(userID)
	for _, id := range c.Admins.UserIDs {
		if strings.TrimSpace(id) == userID && userID != "" {
			return true
		}
	}
	return false
}
