package app

import (
	"context"
	"fmt"
	"time"

	"steamwatch/internal/config"
	"steamwatch/internal/notifier"
	"steamwatch/internal/state"
	"steamwatch/internal/storage"
	"steamwatch/internal/task/scheduler"
	"steamwatch/pkg/logx"
)

const (
	jobSubClean   = "subclean"
	jobAuditPrune = "audit_prune"

	maintenanceTimeout = time.Minute
)

// maintenance owns the housekeeping jobs run by the scheduler.
type maintenance struct {
	state *state.Service
	store storage.Store
	norm  func() notifier.Normalizer
	cfg   func() *config.Config
	log   logx.Logger
	now   func() time.Time
}

func (m *maintenance) subClean(ctx context.Context) error {
	before, after, err := m.state.NormalizeAudiences(ctx, m.norm())
	if err != nil {
		return err
	}
	if before != after {
		m.log.Info("audiences normalized",
			logx.Int("global_before", before.Global), logx.Int("global_after", after.Global),
			logx.Int("group_before", before.Groups), logx.Int("group_after", after.Groups))
	}
	return nil
}

func (m *maintenance) auditPrune(ctx context.Context) error {
	cutoff := m.now().Add(-m.cfg().AuditRetention())
	n, err := m.store.PruneAudit(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		m.log.Info("audit log pruned", logx.Int("removed", n), logx.Time("before", cutoff))
	}
	return nil
}

// apply (re)registers the jobs from cfg. An empty schedule unregisters.
func (m *maintenance) apply(s *scheduler.Service, cfg *config.Config) error {
	if err := s.AddSchedule(jobSubClean, cfg.Maintenance.SubClean, maintenanceTimeout, m.subClean); err != nil {
		return fmt.Errorf("maintenance.subclean: %w", err)
	}
	if err := s.AddSchedule(jobAuditPrune, cfg.Maintenance.AuditPrune, maintenanceTimeout, m.auditPrune); err != nil {
		return fmt.Errorf("maintenance.audit_prune: %w", err)
	}
	return nil
}

func validateMaintenance(cfg *config.Config) error {
	for _, f := range []struct{ path, raw string }{
		{"maintenance.subclean", cfg.Maintenance.SubClean},
		{"maintenance.audit_prune", cfg.Maintenance.AuditPrune},
	} {
		if f.raw == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(f.raw); err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
	}
	return nil
}
