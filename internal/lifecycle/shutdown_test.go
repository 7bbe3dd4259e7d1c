package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdown_RunsOnce(t *testing.T) {
	s := New()

	var calls atomic.Int32
	s.AddCleanup(func(string) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown("test")
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("cleanup called %d times, want 1", n)
	}
}

func TestShutdown_CleanupOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 1; i <= 3; i++ {
		s.AddCleanup(func(string) { order = append(order, i) })
	}
	s.Shutdown("test")

	if len(order) != 3 {
		t.Fatalf("ran %d cleanups, want 3", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("order[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestShutdown_ReasonAndDone(t *testing.T) {
	s := New()
	if r := s.Reason(); r != "" {
		t.Errorf("Reason() = %q before shutdown", r)
	}
	select {
	case <-s.Done():
		t.Fatal("Done closed before shutdown")
	default:
	}

	var sawCancelled bool
	s.AddCleanup(func(string) { sawCancelled = s.Context().Err() != nil })
	s.Shutdown("quit")

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after shutdown")
	}
	if r := s.Reason(); r != "quit" {
		t.Errorf("Reason() = %q, want quit", r)
	}
	if !sawCancelled {
		t.Error("context should be cancelled before cleanups run")
	}
}
