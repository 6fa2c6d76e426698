// Copyright 2025 Certen Protocol

package indexing

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []IndexUpdate
	delay   time.Duration
}

func (s *recordingSink) Index(ctx context.Context, update IndexUpdate) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func TestSubmitDoesNotBlockCaller(t *testing.T) {
	sink := &recordingSink{delay: 100 * time.Millisecond}
	c := New(sink, nil)

	start := time.Now()
	c.Submit(context.Background(), IndexUpdate{BlockNumber: 1, ManualKeywords: "hello"})
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("Submit blocked for %v, expected near-instant return", elapsed)
	}

	if err := c.AwaitQuiescence(context.Background()); err != nil {
		t.Fatalf("AwaitQuiescence: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 indexed update, got %d", sink.count())
	}
}

func TestAwaitQuiescenceWaitsForAllOutstandingSubmits(t *testing.T) {
	sink := &recordingSink{delay: 10 * time.Millisecond}
	c := New(sink, nil)

	for i := 0; i < 20; i++ {
		c.Submit(context.Background(), IndexUpdate{BlockNumber: uint64(i)})
	}

	if err := c.AwaitQuiescence(context.Background()); err != nil {
		t.Fatalf("AwaitQuiescence: %v", err)
	}
	if sink.count() != 20 {
		t.Fatalf("expected 20 indexed updates, got %d", sink.count())
	}
	if c.Pending() != 0 {
		t.Fatalf("expected 0 pending after quiescence, got %d", c.Pending())
	}
}

func TestForceShutdownDropsFurtherSubmits(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)

	c.ForceShutdown()
	c.Submit(context.Background(), IndexUpdate{BlockNumber: 1})

	if err := c.AwaitQuiescence(context.Background()); err != nil {
		t.Fatalf("AwaitQuiescence: %v", err)
	}
	if sink.count() != 0 {
		t.Fatalf("expected submit after shutdown to be dropped, got %d updates", sink.count())
	}

	c.ClearShutdownFlag()
	c.Submit(context.Background(), IndexUpdate{BlockNumber: 2})
	if err := c.AwaitQuiescence(context.Background()); err != nil {
		t.Fatalf("AwaitQuiescence: %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 update after clearing shutdown flag, got %d", sink.count())
	}
}

func TestTestModeRunsSynchronously(t *testing.T) {
	sink := &recordingSink{}
	c := New(sink, nil)
	c.SetTestMode(true)

	c.Submit(context.Background(), IndexUpdate{BlockNumber: 5})
	if sink.count() != 1 {
		t.Fatalf("expected synchronous indexing in test mode, got %d", sink.count())
	}
}
