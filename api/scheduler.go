/*
scheduler.go - Automated completion scheduler

PURPOSE:
  Periodically moves APPROVED reservations whose window (plus the facility's
  grace period) has passed to COMPLETED.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Stateless: each sweep re-reads candidates, so a missed or repeated sweep
    changes nothing
  - Never takes the facility lock; Complete locks only the reservation row
  - Per-row failures are logged and counted, never abort the batch
  - Grace is resolved once per facility per sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCompletionScheduler(store, manager, logger, collector)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunCompletions endpoint (manual sweep)
  - reservation/lifecycle.go: Manager.Complete
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/metrics"
	"github.com/warp/facility-engine/reservation"
)

// DefaultCheckInterval is the sweep interval when none is configured.
const DefaultCheckInterval = time.Hour

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned   int
	Completed int
	Skipped   int
	Failed    int
}

// CandidateLister is the part of reservation.Store the sweep reads.
type CandidateLister interface {
	ListApprovedEndedBy(ctx context.Context, t time.Time) ([]reservation.Reservation, error)
}

// CompletionScheduler handles automated completion of past reservations.
type CompletionScheduler struct {
	Store         CandidateLister
	Manager       *reservation.Manager
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	logger  *zap.Logger
	metrics *metrics.Collector

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	sweepMu sync.Mutex
	lastRun time.Time
}

// NewCompletionScheduler creates a new scheduler.
func NewCompletionScheduler(store CandidateLister, manager *reservation.Manager, logger *zap.Logger, collector *metrics.Collector) *CompletionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionScheduler{
		Store:         store,
		Manager:       manager,
		CheckInterval: DefaultCheckInterval,
		Enabled:       true,
		Now:           time.Now,
		logger:        logger.Named("scheduler"),
		metrics:       collector,
	}
}

// Start begins the scheduler.
func (cs *CompletionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.logger.Info("disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run()

	cs.logger.Info("started", zap.Duration("interval", cs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-progress sweep to finish.
func (cs *CompletionScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		cs.ticker = nil
		cs.logger.Info("stopped")
	}
}

func (cs *CompletionScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.sweepAndLog()

	for {
		select {
		case <-cs.ticker.C:
			cs.sweepAndLog()
		case <-cs.stop:
			return
		}
	}
}

func (cs *CompletionScheduler) sweepAndLog() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cs.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := cs.Sweep(ctx); err != nil {
		cs.logger.Error("sweep failed", zap.Error(err))
	}
}

// Sweep runs one completion pass.
func (cs *CompletionScheduler) Sweep(ctx context.Context) (SweepResult, error) {
	cs.sweepMu.Lock()
	defer cs.sweepMu.Unlock()

	now := cs.Now().UTC()
	cs.lastRun = now

	candidates, err := cs.Store.ListApprovedEndedBy(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	graces := make(map[reservation.FacilityID]time.Duration)

	for _, r := range candidates {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++

		grace, ok := graces[r.FacilityID]
		if !ok {
			policy, err := cs.Manager.Policies().Resolve(ctx, r.FacilityID)
			if err != nil {
				cs.logger.Warn("could not resolve policy",
					zap.String("facility_id", string(r.FacilityID)),
					zap.String("reservation_id", string(r.ID)),
					zap.Error(err))
				res.Failed++
				continue
			}
			grace = policy.Grace()
			graces[r.FacilityID] = grace
		}

		if r.End.Add(grace).After(now) {
			res.Skipped++
			continue
		}

		if _, err := cs.Manager.Complete(ctx, r.ID); err != nil {
			// Cancelled between listing and locking.
			if errors.Is(err, reservation.ErrInvalidTransition) {
				res.Skipped++
				continue
			}
			cs.logger.Warn("could not complete reservation",
				zap.String("reservation_id", string(r.ID)),
				zap.Error(err))
			res.Failed++
			continue
		}
		res.Completed++
	}

	cs.metrics.Sweep(res.Completed, res.Skipped, res.Failed)
	if res.Completed > 0 || res.Failed > 0 {
		cs.logger.Info("sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("completed", res.Completed),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
	return res, ctx.Err()
}

// RunNow triggers an immediate sweep (for testing/admin).
func (cs *CompletionScheduler) RunNow(ctx context.Context) (SweepResult, error) {
	return cs.Sweep(ctx)
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (cs *CompletionScheduler) GetNextRunTime() time.Time {
	cs.sweepMu.Lock()
	last := cs.lastRun
	cs.sweepMu.Unlock()
	if last.IsZero() {
		return cs.Now().Add(cs.CheckInterval)
	}
	return last.Add(cs.CheckInterval)
}
