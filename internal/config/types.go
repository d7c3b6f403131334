package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m"). Pointer fields distinguish "omitted" from an
// explicit zero.
type Config struct {
	Steam         SteamConfig         `json:"steam"`
	Watch         WatchConfig         `json:"watch"`
	Notify        NotifyConfig        `json:"notify"`
	Admins        AdminConfig         `json:"admins"`
	Telegram      TelegramConfig      `json:"telegram"`
	Discord       DiscordConfig       `json:"discord"`
	Storage       StorageConfig       `json:"storage"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
	Maintenance   MaintenanceConfig   `json:"maintenance"`
}

// SteamConfig controls the Steam Web API client and the poll cadence.
//
// Defaults:
//   - poll_interval: "60s" (minimum 30s)
//   - request_timeout: "10s"
//   - request_retries: 2
//   - request_retry_delay: "2s"
//   - verify_ssl: true
//   - resolve_cache_ttl: "10m"
type SteamConfig struct {
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url,omitempty" validate:"omitempty,url"`
	PollInterval      string `json:"poll_interval"`
	RequestTimeout    string `json:"request_timeout"`
	RequestRetries    *int   `json:"request_retries,omitempty" validate:"omitempty,min=0,max=10"`
	RequestRetryDelay string `json:"request_retry_delay"`
	ProxyURL          string `json:"proxy_url,omitempty" validate:"omitempty,url"`
	VerifySSL         *bool  `json:"verify_ssl,omitempty"`
	ResolveCacheTTL   string `json:"resolve_cache_ttl,omitempty"`
	DebugLog          bool   `json:"debug_log,omitempty"`
}

type WatchConfig struct {
	NotifyOnStop   bool `json:"notify_on_stop"`
	ShowFriendCode bool `json:"show_friend_code"`
}

// NotifyConfig controls audience normalization and delivery.
type NotifyConfig struct {
	GroupEnabled    bool   `json:"group_enabled"`
	DefaultPlatform string `json:"default_platform"`
	DefaultKind     string `json:"default_kind"`
	RatePerSec      int    `json:"rate_per_sec" validate:"min=0,max=100"`
	RetryMax        *int   `json:"retry_max,omitempty" validate:"omitempty,min=0,max=10"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
}

// AdminConfig lists requester IDs allowed to run admin commands.
// An empty list grants admin to everyone.
type AdminConfig struct {
	UserIDs []string `json:"user_ids"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type StorageConfig struct {
	Driver string              `json:"driver" validate:"omitempty,oneof=file sqlite"`
	File   StorageFileConfig   `json:"file"`
	SQLite StorageSQLiteConfig `json:"sqlite"`
}

type StorageFileConfig struct {
	Dir string `json:"dir"`
}

type StorageSQLiteConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string             `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console *bool              `json:"console,omitempty"`
	Pretty  bool               `json:"pretty"`
	File    LoggingFileConfig  `json:"file"`
	Alert   LoggingAlertConfig `json:"alert"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlertConfig forwards warnings and errors to one chat audience.
type LoggingAlertConfig struct {
	Enabled    bool   `json:"enabled"`
	Audience   string `json:"audience"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"min=0"`
}

// ObservabilityConfig exposes /healthz, /metrics and optionally pprof.
// Non-loopback addresses need a token unless allow_insecure is set.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig schedules housekeeping jobs. Schedules accept cron
// expressions, HH:MM daily times or Go durations; empty disables the job.
type MaintenanceConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	SubClean       string `json:"subclean,omitempty"`
	AuditPrune     string `json:"audit_prune,omitempty"`
	AuditRetention string `json:"audit_retention,omitempty"`
}
