// Package retention prunes stale edit records on a cron schedule: records
// older than the configured age and records whose session has been deleted.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/editstore"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// Config controls the retention sweep.
type Config struct {
	Enabled bool
	Cron    string
	MaxAge  time.Duration
}

// Sweeper runs scheduled edit-record sweeps.
type Sweeper struct {
	cfg   Config
	store *editstore.Store
	live  func(sessionID string) bool
	log   *logger.Logger
}

// New creates a sweeper. live reports whether a session still exists and is
// not deleted; records of dead sessions are pruned regardless of age.
func New(cfg Config, store *editstore.Store, live func(sessionID string) bool, log *logger.Logger) (*Sweeper, error) {
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}
	cfg.Cron = cronExpr

	return &Sweeper{cfg: cfg, store: store, live: live, log: log}, nil
}

// Run blocks until ctx is cancelled, sweeping at each cron tick. It returns
// nil when retention is disabled.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("retention disabled")
		return nil
	}
	s.log.Info("retention scheduler started",
		zap.String("cron", s.cfg.Cron),
		zap.Duration("max_age", s.cfg.MaxAge),
	)

	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cfg.Cron, now, false)
		if err != nil {
			return fmt.Errorf("failed to compute next retention tick: %w", err)
		}

		select {
		case <-ctx.Done():
			s.log.Info("retention scheduler stopping")
			return nil
		case <-time.After(next.Sub(now)):
		}

		if err := s.RunOnce(); err != nil {
			s.log.Error("retention sweep failed", zap.Error(err))
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() error {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)
	pruned, err := s.store.SweepOlderThan(cutoff, s.live)
	if err != nil {
		return err
	}
	if pruned > 0 {
		metrics.EditRecordsPruned.Add(float64(pruned))
	}
	s.log.Info("retention sweep complete", zap.Int("pruned", pruned))
	return nil
}
