// Package detector turns the stream of a customer's own record into a
// one-shot "point gained" signal.
package detector

import "time"

// PointGained is emitted when points rise while the card is on screen.
// StampIndex is the zero-based slot to highlight.
type PointGained struct {
	At         time.Time
	StampIndex int
}

// Detector holds the baseline for a single subscription. Create one per
// subscription and drop it when the subscription ends.
type Detector struct {
	baseline int
	primed   bool
	pending  *PointGained
	now      func() time.Time
}

func New(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{now: now}
}

// Observe records a newly delivered points value and reports whether it
// produced an event. The first value after start or Reset only primes the
// baseline.
func (d *Detector) Observe(points int) bool {
	fired := d.primed && points > d.baseline
	if fired {
		d.pending = &PointGained{At: d.now(), StampIndex: points - 1}
	}

	d.baseline = points
	d.primed = true
	return fired
}

// Take consumes the pending event, if any
func (d *Detector) Take() (PointGained, bool) {
	if d.pending == nil {
		return PointGained{}, false
	}
	ev := *d.pending
	d.pending = nil
	return ev, true
}

// Reset returns to the unprimed state and discards any pending event
func (d *Detector) Reset() {
	d.baseline = 0
	d.primed = false
	d.pending = nil
}

// Baseline returns the last observed value
func (d *Detector) Baseline() int {
	return d.baseline
}
