package config

import (
	"reflect"
	"strings"

	"steamwatch/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs
// and returns log fields describing the new values. Secrets are reported
// only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	o, n := oldCfg.Steam, newCfg.Steam
	if o.APIKey != n.APIKey || o.PollInterval != n.PollInterval || o.RequestTimeout != n.RequestTimeout ||
		!reflect.DeepEqual(o.RequestRetries, n.RequestRetries) || o.RequestRetryDelay != n.RequestRetryDelay ||
		o.ProxyURL != n.ProxyURL || !reflect.DeepEqual(o.VerifySSL, n.VerifySSL) ||
		o.ResolveCacheTTL != n.ResolveCacheTTL || o.DebugLog != n.DebugLog || o.BaseURL != n.BaseURL {
		changed = append(changed, "steam")
		fields = append(fields,
			logx.Bool("steam.api_key_set", strings.TrimSpace(n.APIKey) != ""),
			logx.Duration("steam.poll_interval", newCfg.PollInterval()),
			logx.Int("steam.request_retries", newCfg.RequestRetries()),
			logx.Bool("steam.proxy_set", strings.TrimSpace(n.ProxyURL) != ""),
			logx.Bool("steam.verify_ssl", newCfg.VerifySSL()),
		)
	}
	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		fields = append(fields, logx.Bool("watch.notify_on_stop", newCfg.Watch.NotifyOnStop))
	}
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		fields = append(fields,
			logx.Bool("notify.group_enabled", newCfg.Notify.GroupEnabled),
			logx.String("notify.default_platform", newCfg.NotifyPlatform()),
			logx.String("notify.default_kind", newCfg.NotifyKind()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Admins, newCfg.Admins) {
		changed = append(changed, "admins")
		fields = append(fields, logx.Int("admins.count", len(newCfg.Admins.UserIDs)))
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		fields = append(fields, logx.Bool("telegram.token_set", newCfg.Telegram.Token != ""))
	}
	if oldCfg.Discord != newCfg.Discord {
		changed = append(changed, "discord")
		fields = append(fields, logx.Bool("discord.token_set", newCfg.Discord.Token != ""))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}
	ob, nb := oldCfg.Observability, newCfg.Observability
	ob.Token, nb.Token = tokenMark(ob.Token), tokenMark(nb.Token)
	if ob != nb {
		changed = append(changed, "observability")
		fields = append(fields,
			logx.Bool("observability.enabled", nb.Enabled),
			logx.String("observability.addr", nb.Addr),
			logx.Bool("observability.pprof", nb.Pprof),
		)
	}
	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		fields = append(fields,
			logx.String("maintenance.subclean", newCfg.Maintenance.SubClean),
			logx.String("maintenance.audit_prune", newCfg.Maintenance.AuditPrune),
		)
	}
	return changed, fields
}

func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
