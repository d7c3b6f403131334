package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/eventbus"
	"steamwatch/pkg/logx"
)

// restartOnly lists sections that are read once at startup.
var restartOnly = []string{"storage", "telegram", "discord"}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			a.applyConfig(ctx, newCfg, sections)
			a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

// applyConfig pushes a committed config into every live component.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(cfg, a.opts.LogLevel))

	if err := a.steam.Reconfigure(mapSteamConfig(cfg)); err != nil {
		a.log.Warn("invalid steam config; keeping previous", logx.Err(err))
	}

	norm := mapNormalizer(cfg)
	a.router.SetNormalizer(norm)
	a.state.SetNormalizer(norm)
	a.router.Apply(mapNotifierConfig(cfg))

	a.sched.Apply(mapSchedulerConfig(cfg))
	if err := a.maint.apply(a.sched, cfg); err != nil {
		a.log.Warn("maintenance schedules not applied", logx.Err(err))
	}

	a.obs.Reconfigure(ctx, mapObservabilityConfig(cfg))
}
