/*
scheduler.go - Periodic batch materialization

PURPOSE:
  Runs the recurring and loan batches on a fixed interval so due recipes
  materialize without user interaction. Manual sync endpoints and the
  scheduler share the same engine; idempotency keys make overlap safe.

DESIGN:
  - Background goroutine with a configurable tick interval
  - Runs once immediately on Start
  - A wall-clock timeout bounds each run
  - Status transitions: idle -> processing -> completed | failed
  - Coarse SyncRun records are persisted for the status endpoint

USAGE:
  scheduler := NewSyncScheduler(engine, store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual sync endpoints
  - batch/engine.go: The materialization loop
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jomonylw/flow-balance/batch"
)

// SyncScheduler triggers batch runs on an interval.
type SyncScheduler struct {
	Engine   *batch.Engine
	Store    batch.Store
	Interval time.Duration
	Timeout  time.Duration
	Enabled  bool
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	status    string
	lastRunAt *time.Time
	lastError string
	processed int
	skipped   int
}

// NewSyncScheduler creates a scheduler with hourly runs by default.
func NewSyncScheduler(engine *batch.Engine, store batch.Store, log *zap.Logger) *SyncScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncScheduler{
		Engine:   engine,
		Store:    store,
		Interval: 1 * time.Hour,
		Timeout:  5 * time.Minute,
		Enabled:  true,
		Log:      log,
		stop:     make(chan struct{}),
		status:   "idle",
	}
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("sync scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.loop()

	s.Log.Info("sync scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	ticker := s.ticker
	s.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Log.Info("sync scheduler stopped")
	}
}

// RunNow triggers an immediate run (manual sync, tests).
func (s *SyncScheduler) RunNow() {
	s.runOnce()
}

// Status reports the scheduler's state for the status endpoint.
func (s *SyncScheduler) Status() SyncStatusDTO {
	s.mu.Lock()
	defer s.mu.Unlock()

	dto := SyncStatusDTO{
		Status:      s.status,
		LastRunAt:   s.lastRunAt,
		LastError:   s.lastError,
		Processed:   s.processed,
		Skipped:     s.skipped,
		IntervalSec: int(s.Interval.Seconds()),
	}
	if s.lastRunAt != nil && s.Enabled {
		next := s.lastRunAt.Add(s.Interval)
		dto.NextRunAt = &next
	}
	return dto
}

func (s *SyncScheduler) loop() {
	defer s.wg.Done()

	// Catch up recipes that came due while the service was down.
	s.runOnce()

	for {
		select {
		case <-s.ticker.C:
			s.runOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *SyncScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	started := time.Now()
	s.setStatus("processing", started, "", 0, 0)

	record := batch.SyncRun{
		ID:        uuid.NewString(),
		Kind:      "scheduled",
		Status:    "processing",
		StartedAt: started,
	}
	if err := s.Store.SaveSyncRun(ctx, record); err != nil {
		s.Log.Warn("failed to record sync run", zap.Error(err))
	}

	recurring, rErr := s.Engine.RunRecurringBatch(ctx, "")
	loans, lErr := s.Engine.RunLoanBatch(ctx, "")

	completed := time.Now()
	record.CompletedAt = &completed
	record.Processed = recurring.Processed + loans.Processed
	record.Skipped = recurring.Skipped + loans.Skipped

	switch {
	case rErr != nil:
		record.Status, record.Error = "failed", rErr.Error()
	case lErr != nil:
		record.Status, record.Error = "failed", lErr.Error()
	default:
		record.Status = "completed"
		for _, e := range append(recurring.Errors, loans.Errors...) {
			// Per-recipe failures don't fail the run; surface the first one.
			record.Error = e.Message
			break
		}
	}

	if err := s.Store.SaveSyncRun(ctx, record); err != nil {
		s.Log.Warn("failed to record sync run", zap.Error(err))
	}
	s.setStatus(record.Status, started, record.Error, record.Processed, record.Skipped)

	s.Log.Info("scheduled sync finished",
		zap.String("status", record.Status),
		zap.Int("processed", record.Processed),
		zap.Int("skipped", record.Skipped),
		zap.Duration("took", completed.Sub(started)))
}

func (s *SyncScheduler) setStatus(status string, runAt time.Time, errMsg string, processed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.lastRunAt = &runAt
	s.lastError = errMsg
	s.processed = processed
	s.skipped = skipped
}
