// Copyright 2025 Certen Protocol
//
// Package indexing runs keyword indexing for newly appended blocks off the
// write path. ChainEngine enqueues an IndexUpdate after a block is durably
// persisted and returns to its caller without waiting for it to be indexed;
// tests and shutdown paths can still wait for every outstanding update to
// drain via AwaitQuiescence.

package indexing

import (
	"context"
	"log"
	"sync"
)

// IndexUpdate describes one block's worth of indexing work. The coordinator
// never sees ciphertext: callers decrypt AutoKeywordsPlain before submitting,
// or leave it empty to keep that field genuinely private.
type IndexUpdate struct {
	BlockNumber       uint64
	ManualKeywords    string
	AutoKeywordsPlain string
}

// IndexSink receives IndexUpdates and persists whatever derived index it
// maintains (e.g. populating blocks.auto_keywords). Implementations must be
// safe for concurrent use.
type IndexSink interface {
	Index(ctx context.Context, update IndexUpdate) error
}

// Coordinator schedules IndexSink calls asynchronously and tracks how many
// are outstanding, so callers can block until the backlog is empty without
// the caller that produced a block ever waiting on indexing itself.
type Coordinator struct {
	mu       sync.Mutex
	sink     IndexSink
	logger   *log.Logger
	pending  int
	idle     *sync.Cond
	shutdown bool
	testMode bool
}

// New creates a Coordinator that dispatches to sink.
func New(sink IndexSink, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[Indexing] ", log.LstdFlags)
	}
	c := &Coordinator{
		sink:   sink,
		logger: logger,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// SetTestMode runs Submit synchronously on the calling goroutine instead of
// spawning a worker, so tests can assert on indexing effects without a
// separate AwaitQuiescence call.
func (c *Coordinator) SetTestMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.testMode = enabled
}

// Submit schedules update for indexing. It never blocks the caller on the
// sink's work, unless test mode is enabled. A call after ForceShutdown is a
// silent no-op: the index is allowed to lag during shutdown, never to crash
// the append path that produced the block.
func (c *Coordinator) Submit(ctx context.Context, update IndexUpdate) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	if c.testMode {
		c.mu.Unlock()
		c.run(ctx, update)
		return
	}
	c.pending++
	c.mu.Unlock()

	go c.run(ctx, update)
}

func (c *Coordinator) run(ctx context.Context, update IndexUpdate) {
	defer c.complete()
	if err := c.sink.Index(ctx, update); err != nil {
		c.logger.Printf("index update for block %d failed: %v", update.BlockNumber, err)
	}
}

func (c *Coordinator) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending > 0 {
		c.pending--
	}
	if c.pending == 0 {
		c.idle.Broadcast()
	}
}

// AwaitQuiescence blocks until every submitted IndexUpdate has completed, or
// ctx is done. Intended for tests and for graceful shutdown.
func (c *Coordinator) AwaitQuiescence(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for c.pending > 0 {
			c.idle.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceShutdown stops accepting new Submit calls. Outstanding work already
// dispatched continues to run; callers that need to wait for it should call
// AwaitQuiescence first, then ForceShutdown to stop accepting more.
func (c *Coordinator) ForceShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

// ClearShutdownFlag re-enables Submit after a ForceShutdown. Used by
// ClearAndReinitialize, which needs indexing to resume once the chain is
// reset.
func (c *Coordinator) ClearShutdownFlag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = false
}

// Pending returns the number of IndexUpdates currently in flight. Exposed
// for tests and diagnostics only.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}
