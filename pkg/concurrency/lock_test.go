// Copyright 2025 Certen Protocol

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireWriteIsExclusive(t *testing.T) {
	c := New()
	ctx := context.Background()

	release, err := c.AcquireWrite(ctx)
	if err != nil {
		t.Fatalf("AcquireWrite: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		r, err := c.AcquireWrite(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired lock while first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	<-acquired
}

func TestAcquireReadAllowsConcurrentReaders(t *testing.T) {
	c := New()
	ctx := context.Background()

	r1, err := c.AcquireRead(ctx)
	if err != nil {
		t.Fatalf("AcquireRead: %v", err)
	}
	r2, err := c.AcquireRead(ctx)
	if err != nil {
		t.Fatalf("AcquireRead: %v", err)
	}
	r1()
	r2()
}

func TestAcquireWriteRespectsContextDeadline(t *testing.T) {
	c := New()
	ctx := context.Background()

	release, err := c.AcquireWrite(ctx)
	if err != nil {
		t.Fatalf("AcquireWrite: %v", err)
	}
	defer release()

	deadlineCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.AcquireWrite(deadlineCtx)
	if err == nil {
		t.Fatal("expected deadline error, got nil")
	}
}

func TestOptimisticReadFastPathWhenNoWriteRaces(t *testing.T) {
	c := New()
	ctx := context.Background()

	result, err := OptimisticRead(ctx, c, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("OptimisticRead: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %d", result)
	}
}

func TestOptimisticReadRetriesWhenVersionChangesUnderneathIt(t *testing.T) {
	c := New()
	ctx := context.Background()

	var calls atomic.Int32
	var once sync.Once

	result, err := OptimisticRead(ctx, c, func() (int, error) {
		calls.Add(1)
		once.Do(func() {
			release, err := c.AcquireWrite(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			release()
		})
		return 7, nil
	})
	if err != nil {
		t.Fatalf("OptimisticRead: %v", err)
	}
	if result != 7 {
		t.Fatalf("expected 7, got %d", result)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected fn to run twice (once optimistic, once under read lock), got %d", calls.Load())
	}
}
