// Package scheduler runs the periodic audit chain integrity sweep. A broken
// chain found outside a request path still needs operator attention.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/config"
	"github.com/doc-shield/lc-engine/internal/metrics"
)

// Sweeper re-verifies the chains of recently active lookups on a cron
// schedule.
type Sweeper struct {
	config   config.SchedulerConfig
	store    auditchain.Store
	verifier *auditchain.Verifier
	metrics  *metrics.Collector
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewSweeper(
	cfg config.SchedulerConfig,
	store auditchain.Store,
	verifier *auditchain.Verifier,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		config:   cfg,
		store:    store,
		verifier: verifier,
		metrics:  collector,
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger:   logger,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Integrity sweep disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.SweepSchedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("Integrity sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule integrity sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Integrity sweep scheduled", zap.String("schedule", s.config.SweepSchedule))
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// Sweep verifies every chain with activity inside the configured window.
// A failed chain is logged and counted; the sweep keeps going so one bad
// lookup does not hide others.
func (s *Sweeper) Sweep(ctx context.Context) error {
	since := time.Now().UTC().Add(-s.config.SweepWindow)
	lookupIDs, err := s.store.RecentLookupIDs(ctx, since, s.config.SweepBatchSize)
	if err != nil {
		return err
	}

	invalid := 0
	for _, lookupID := range lookupIDs {
		result, err := s.verifier.Verify(ctx, lookupID)
		if err != nil {
			s.logger.Error("Sweep could not verify chain",
				zap.String("lookup_id", lookupID), zap.Error(err))
			continue
		}
		s.metrics.ObserveChainVerification(result.Valid)
		if !result.Valid {
			invalid++
		}
	}

	s.logger.Info("Integrity sweep completed",
		zap.Int("chains", len(lookupIDs)),
		zap.Int("invalid", invalid),
	)
	return nil
}
