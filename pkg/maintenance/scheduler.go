// Copyright 2025 Certen Protocol
//
// Package maintenance runs the three background jobs that keep a long-lived
// chain healthy: hourly size monitoring, weekly VACUUM (gated by a minimum
// interval), and daily off-chain orphan cleanup. Cadence scheduling is
// delegated to robfig/cron/v3; the scheduler's own lifecycle (start, stop,
// pause, resume) is a small state machine modeled on the teacher's
// time.Ticker-driven batch scheduler.

package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/certen/private-ledger/pkg/config"
	"github.com/certen/private-ledger/pkg/database"
	"github.com/certen/private-ledger/pkg/offchain"
)

// SchedulerState mirrors the teacher's batch scheduler state enum.
type SchedulerState string

const (
	SchedulerStateStopped SchedulerState = "stopped"
	SchedulerStateRunning SchedulerState = "running"
	SchedulerStatePaused  SchedulerState = "paused"
)

// sizeMonitorWarnFraction and sizeMonitorCriticalFraction are the
// thresholds, as a fraction of cfg.SizeMonitorMaxBytes, at which the size
// monitor job logs a warning or a critical alert.
const (
	sizeMonitorWarnFraction     = 0.75
	sizeMonitorCriticalFraction = 0.90
)

// Scheduler owns the three maintenance jobs and their cron registration.
type Scheduler struct {
	mu sync.RWMutex

	cfg      *config.Config
	db       *database.Client
	repos    *database.Repositories
	offchain *offchain.Store

	cron  *cron.Cron
	state SchedulerState

	lastVacuum time.Time

	logger *log.Logger
}

// New creates a Scheduler. It does not start any jobs until Start is
// called.
func New(cfg *config.Config, db *database.Client, repos *database.Repositories, offchainStore *offchain.Store) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		db:       db,
		repos:    repos,
		offchain: offchainStore,
		state:    SchedulerStateStopped,
		logger:   log.New(log.Writer(), "[Maintenance] ", log.LstdFlags),
	}
}

// Start registers the hourly, weekly, and daily jobs and begins running
// them. Calling Start while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SchedulerStateRunning {
		return nil
	}

	if !s.cfg.MaintenanceEnabled {
		s.logger.Println("maintenance disabled by configuration, scheduler not started")
		return nil
	}

	c := cron.New()

	if _, err := c.AddFunc("@hourly", func() { s.runSizeMonitor(ctx) }); err != nil {
		return fmt.Errorf("register size monitor job: %w", err)
	}
	if _, err := c.AddFunc("@weekly", func() { s.runVacuum(ctx) }); err != nil {
		return fmt.Errorf("register vacuum job: %w", err)
	}
	if _, err := c.AddFunc("@daily", func() { s.runCleanup(ctx) }); err != nil {
		return fmt.Errorf("register cleanup job: %w", err)
	}

	s.cron = c
	s.state = SchedulerStateRunning
	c.Start()

	s.logger.Println("maintenance scheduler started")
	return nil
}

// Stop cancels all pending job runs and waits for any in-flight run to
// finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != SchedulerStateRunning && s.state != SchedulerStatePaused {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.state = SchedulerStateStopped
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.logger.Println("maintenance scheduler stopped")
	return nil
}

// Pause prevents jobs from firing without tearing down the cron entries.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedulerStateRunning {
		s.state = SchedulerStatePaused
	}
}

// Resume un-pauses a paused scheduler.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SchedulerStatePaused {
		s.state = SchedulerStateRunning
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == SchedulerStateRunning
}

// runSizeMonitor checks the database's on-disk size against the configured
// ceiling and logs a warning or critical alert past 75%/90% of it.
func (s *Scheduler) runSizeMonitor(ctx context.Context) {
	if !s.isRunning() {
		return
	}

	size, err := s.db.DatabaseSizeBytes(ctx)
	if err != nil {
		s.logger.Printf("size monitor: %v", err)
		return
	}

	ceiling := s.cfg.SizeMonitorMaxBytes
	if ceiling <= 0 {
		return
	}

	fraction := float64(size) / float64(ceiling)
	switch {
	case fraction >= sizeMonitorCriticalFraction:
		s.logger.Printf("CRITICAL: database size %d bytes is %.0f%% of configured ceiling %d", size, fraction*100, ceiling)
	case fraction >= sizeMonitorWarnFraction:
		s.logger.Printf("WARNING: database size %d bytes is %.0f%% of configured ceiling %d", size, fraction*100, ceiling)
	}
}

// runVacuum VACUUMs the chain tables, but only if at least
// cfg.VacuumMinInterval has elapsed since the last run. The weekly cron
// cadence already approximates this; the guard protects ForceVacuum from
// being abused to thrash the tables.
func (s *Scheduler) runVacuum(ctx context.Context) {
	if !s.isRunning() {
		return
	}
	s.vacuum(ctx)
}

// ForceVacuum runs VACUUM immediately, bypassing the cron cadence but still
// honoring the minimum-interval guard.
func (s *Scheduler) ForceVacuum(ctx context.Context) error {
	return s.vacuum(ctx)
}

func (s *Scheduler) vacuum(ctx context.Context) error {
	s.mu.Lock()
	elapsed := time.Since(s.lastVacuum)
	if !s.lastVacuum.IsZero() && elapsed < s.cfg.VacuumMinInterval {
		s.mu.Unlock()
		s.logger.Printf("vacuum skipped: only %s elapsed since last run, minimum interval is %s", elapsed, s.cfg.VacuumMinInterval)
		return nil
	}
	s.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.VacuumTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.VacuumTimeout)
		defer cancel()
	}

	if err := s.db.Vacuum(runCtx); err != nil {
		s.logger.Printf("vacuum failed: %v", err)
		return err
	}

	s.mu.Lock()
	s.lastVacuum = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Println("vacuum completed")
	return nil
}

// runCleanup sweeps off-chain objects no longer referenced by any block,
// GZIP-compresses aged objects still in use, and respects both an orphan
// cap per cycle and a minimum-free-disk-space guard.
func (s *Scheduler) runCleanup(ctx context.Context) {
	if !s.isRunning() {
		return
	}
	if err := s.TriggerCleanupNow(ctx); err != nil {
		s.logger.Printf("cleanup failed: %v", err)
	}
}

// TriggerCleanupNow runs the cleanup job immediately, bypassing the cron
// cadence.
func (s *Scheduler) TriggerCleanupNow(ctx context.Context) error {
	free, err := freeDiskBytes(s.cfg.OffChainDir)
	if err != nil {
		s.logger.Printf("cleanup: failed to read free disk space, proceeding without the guard: %v", err)
	} else if free < s.cfg.CleanupMinFreeDiskBytes {
		return fmt.Errorf("cleanup aborted: only %d bytes free, minimum is %d", free, s.cfg.CleanupMinFreeDiskBytes)
	}

	referenced, err := s.repos.Blocks.ListOffChainReferences(ctx)
	if err != nil {
		return fmt.Errorf("list off-chain references: %w", err)
	}

	onDisk, err := s.offchain.ListHashes()
	if err != nil {
		return fmt.Errorf("list off-chain objects: %w", err)
	}

	plan := planCleanup(onDisk, referenced, s.cfg.CleanupOrphanCapPerCycle)
	if plan.capped {
		s.logger.Printf("cleanup: orphan cap of %d reached, remaining orphans deferred to next cycle", s.cfg.CleanupOrphanCapPerCycle)
	}

	for _, hash := range plan.toCompress {
		if err := s.offchain.CompressIfOlderThan(hash, s.cfg.OffChainCompressAfterAge); err != nil {
			s.logger.Printf("cleanup: compress %s: %v", hash, err)
		}
	}

	removed := 0
	for _, hash := range plan.toDelete {
		if err := s.offchain.Delete(hash); err != nil {
			s.logger.Printf("cleanup: delete orphan %s: %v", hash, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Printf("cleanup: removed %d orphaned off-chain objects", removed)
	}
	return nil
}

// cleanupPlan is the pure, DB- and filesystem-free decomposition of a
// cleanup cycle: which on-disk objects are still referenced (and so only
// candidates for compression) versus orphaned (candidates for deletion),
// bounded by the per-cycle orphan cap.
type cleanupPlan struct {
	toCompress []string
	toDelete   []string
	capped     bool
}

func planCleanup(onDisk []string, referenced map[string]bool, orphanCap int) cleanupPlan {
	var plan cleanupPlan
	for _, hash := range onDisk {
		if referenced[hash] {
			plan.toCompress = append(plan.toCompress, hash)
			continue
		}
		if len(plan.toDelete) >= orphanCap {
			plan.capped = true
			continue
		}
		plan.toDelete = append(plan.toDelete, hash)
	}
	return plan
}

func freeDiskBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
