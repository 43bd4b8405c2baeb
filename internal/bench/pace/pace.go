// Package pace spaces sends to a fixed rate.
package pace

import (
	"context"
	"sync"
	"time"
)

// Pacer is a leaky bucket: each call to Next reserves the next send slot and
// returns when it starts. A sender that falls behind is not allowed to catch
// up in a burst larger than the configured burst.
//
// A Pacer is safe for concurrent use.
type Pacer struct {
	mu          sync.Mutex
	rate        float64 // sends per second
	burst       float64
	accumulated float64
	lastDrip    time.Time

	sends  int64
	waited time.Duration
}

// New returns a pacer for rate sends per second. The first send is immediate.
// A non-positive rate is treated as one per second.
func New(rate float64) *Pacer {
	return newWithBurst(rate, 1)
}

// newWithBurst is New with a burst allowance; burst is at least 1.
func newWithBurst(rate, burst float64) *Pacer {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{
		rate:        rate,
		burst:       burst,
		accumulated: 1,
		lastDrip:    time.Now(),
	}
}

// Next reserves a slot and returns its start time, which is in the past or
// now when the caller is behind schedule.
func (p *Pacer) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(p.lastDrip).Seconds(); elapsed > 0 {
		p.accumulated += elapsed * p.rate
	}
	if p.accumulated > p.burst {
		p.accumulated = p.burst
	}
	p.sends++

	if p.accumulated >= 1 {
		p.accumulated--
		p.lastDrip = now
		return now
	}

	// Slots queue behind the last reservation.
	base := now
	if p.lastDrip.After(now) {
		base = p.lastDrip
	}
	next := base.Add(time.Duration((1 - p.accumulated) / p.rate * float64(time.Second)))
	// lastDrip moves to the reserved slot so waking at next does not credit
	// the same interval twice.
	p.accumulated = 0
	p.lastDrip = next
	p.waited += next.Sub(now)
	return next
}

// Wait blocks until the next slot or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	d := time.Until(p.Next())
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats reports pacing so far.
type Stats struct {
	Rate   float64       `json:"rate"`
	Sends  int64         `json:"sends"`
	Waited time.Duration `json:"waited"`
}

// Stats returns a snapshot.
func (p *Pacer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Rate: p.rate, Sends: p.sends, Waited: p.waited}
}
