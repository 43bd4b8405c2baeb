package pace

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want float64
	}{
		{"positive rate", 100, 100},
		{"zero rate defaults to 1", 0, 1},
		{"negative rate defaults to 1", -10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := New(tt.rate).Stats().Rate; got != tt.want {
				t.Errorf("Stats().Rate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_FirstIsImmediate(t *testing.T) {
	p := New(10)
	now := time.Now()
	if d := p.Next().Sub(now); d > 5*time.Millisecond {
		t.Errorf("first Next() delayed by %v", d)
	}
}

func TestNext_SpacesSlots(t *testing.T) {
	p := New(100) // 10ms apart
	_ = p.Next()

	next := p.Next()
	delay := time.Until(next)
	if delay < 5*time.Millisecond || delay > 15*time.Millisecond {
		t.Errorf("second slot in %v, want ~10ms", delay)
	}

	third := p.Next()
	if gap := third.Sub(next); gap < 9*time.Millisecond || gap > 11*time.Millisecond {
		t.Errorf("gap between reserved slots = %v, want 10ms", gap)
	}
}

func TestWait_HoldsRate(t *testing.T) {
	p := New(200) // 5ms apart
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 21; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 90*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Errorf("21 sends at 200/s took %v, want ~100ms", elapsed)
	}
	if s := p.Stats(); s.Sends != 21 || s.Waited <= 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestWait_Cancelled(t *testing.T) {
	p := New(0.5) // 2s apart
	_ = p.Next()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := p.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return on cancellation")
	}
}

func TestBurstIsCapped(t *testing.T) {
	p := newWithBurst(1000, 3)
	time.Sleep(50 * time.Millisecond) // would be 50 slots without a cap

	now := time.Now()
	immediate := 0
	for i := 0; i < 10; i++ {
		if !p.Next().After(now.Add(time.Millisecond)) {
			immediate++
		}
	}
	if immediate > 4 {
		t.Errorf("%d immediate slots, burst should cap at 3", immediate)
	}
}

func TestConcurrentNext(t *testing.T) {
	p := New(1e6)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.Next()
			}
		}()
	}
	wg.Wait()
	if got := p.Stats().Sends; got != 800 {
		t.Errorf("Sends = %d, want 800", got)
	}
}
