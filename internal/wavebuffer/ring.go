// Package wavebuffer implements the bounded, channel-major ring store that
// absorbs incoming waveform packets and serves fixed-window reads by
// absolute time.
package wavebuffer

import (
	"math"
	"sync"
	"time"

	"github.com/e7canasta/ttsam-go/internal/filter"
)

// ChannelRing is a fixed-capacity circular buffer for one (station, channel)
// pair. Samples live at fixed indices i corresponding to absolute time
// anchor + i/rate; any sample never delivered by a packet leaves its
// validity bit false.
type ChannelRing struct {
	mu sync.Mutex

	rate     float64
	capacity int

	anchor  time.Time
	samples []float64
	valid   []bool

	bp *filter.Bandpass

	lastEnd    time.Time
	hasLastEnd bool

	droppedStale     uint64
	droppedBad       uint64
	droppedDuplicate uint64
	gapResyncs       uint64
}

// NewChannelRing builds an empty ring covering windowSeconds at rate Hz,
// anchored at anchor, with its own independent filter state.
func NewChannelRing(anchor time.Time, rate, windowSeconds float64, bp *filter.Bandpass) *ChannelRing {
	capacity := int(math.Round(windowSeconds * rate))
	return &ChannelRing{
		rate:     rate,
		capacity: capacity,
		anchor:   anchor,
		samples:  make([]float64, capacity),
		valid:    make([]bool, capacity),
		bp:       bp,
	}
}

// insertResult reports what happened to an inserted packet, for counters.
type insertResult int

const (
	insertedOK insertResult = iota
	droppedStaleResult
	resyncResult
)

// isStale reports whether a packet of n samples starting at startTime would
// land entirely at or before the ring's current anchor. This is read-only:
// the caller uses it to decide whether to run gap detection and filtering
// at all, so that a packet ultimately dropped as stale moves nothing but
// the dropped_stale counter (spec.md section 7/8's "no counters other than
// dropped_stale move").
func (r *ChannelRing) isStale(startTime time.Time, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i0 := int(math.Round(startTime.Sub(r.anchor).Seconds() * r.rate))
	return i0+n <= 0
}

// bumpDroppedStale increments the stale-drop counter for a packet the
// caller rejected via isStale before it ever reached filtering or insert.
func (r *ChannelRing) bumpDroppedStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.droppedStale++
}

// isDuplicate reports whether a packet ending at endTime carries no data
// past what the ring already holds: its entire span is at or before the
// last accepted packet's end. Re-delivery of an already-accepted packet is
// the common case, but this also covers any packet that is a strict subset
// of already-covered time. Like isStale, this is read-only so the caller
// can reject the packet before it reaches the filter.
func (r *ChannelRing) isDuplicate(endTime time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasLastEnd && !endTime.After(r.lastEnd)
}

// bumpDroppedDuplicate increments the duplicate-drop counter for a packet
// the caller rejected via isDuplicate before it ever reached filtering or
// insert.
func (r *ChannelRing) bumpDroppedDuplicate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.droppedDuplicate++
}

// insert writes pre-normalized (gain-divided), filtered samples into the
// ring at the slots implied by startTime, sliding or resetting the ring as
// needed. Filtering is applied by the caller before calling insert so the
// gap-detection-then-reset-then-filter ordering in spec.md 4.1 is explicit
// at the call site (see Insert in buffer.go). Callers are expected to have
// already rejected stale packets via isStale, but the check below stays as
// a backstop for any other caller of insert.
func (r *ChannelRing) insert(startTime time.Time, samples []float64) insertResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	i0 := int(math.Round(startTime.Sub(r.anchor).Seconds() * r.rate))
	n := len(samples)

	if i0+n <= 0 {
		r.droppedStale++
		return droppedStaleResult
	}

	result := insertedOK

	if i0 > r.capacity {
		// Large forward jump: reset the ring, anchor advances to this
		// packet's start, everything previously held is invalidated.
		r.anchor = startTime
		for i := range r.valid {
			r.valid[i] = false
			r.samples[i] = 0
		}
		i0 = 0
		r.gapResyncs++
		result = resyncResult
	} else if i0+n > r.capacity {
		// Slide the anchor forward so the new packet's end fits exactly at
		// the tail of the ring; samples rotated out are invalidated.
		shift := i0 + n - r.capacity
		r.slide(shift)
		i0 -= shift
	}

	for j := 0; j < n; j++ {
		idx := i0 + j
		if idx < 0 || idx >= r.capacity {
			continue
		}
		r.samples[idx] = samples[j]
		r.valid[idx] = true
	}

	r.lastEnd = startTime.Add(time.Duration(float64(n) / r.rate * float64(time.Second)))
	r.hasLastEnd = true

	return result
}

// slide rotates the ring forward by shift samples, dropping the oldest
// shift samples and advancing the anchor to match.
func (r *ChannelRing) slide(shift int) {
	if shift >= r.capacity {
		for i := range r.valid {
			r.valid[i] = false
			r.samples[i] = 0
		}
		r.anchor = r.anchor.Add(time.Duration(float64(shift) / r.rate * float64(time.Second)))
		return
	}

	copy(r.samples, r.samples[shift:])
	copy(r.valid, r.valid[shift:])
	for i := r.capacity - shift; i < r.capacity; i++ {
		r.samples[i] = 0
		r.valid[i] = false
	}

	r.anchor = r.anchor.Add(time.Duration(float64(shift) / r.rate * float64(time.Second)))
}

// readWindow copies out the windowSamples ending at endTime, aligned to the
// ring's sample grid, zero-filling and masking any invalid slots.
func (r *ChannelRing) readWindow(endTime time.Time, windowSamples int) (samples []float64, mask []bool, anyValid bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	samples = make([]float64, windowSamples)
	mask = make([]bool, windowSamples)

	endIdx := int(math.Round(endTime.Sub(r.anchor).Seconds() * r.rate))
	startIdx := endIdx - windowSamples

	for j := 0; j < windowSamples; j++ {
		idx := startIdx + j
		if idx < 0 || idx >= r.capacity || !r.valid[idx] {
			continue
		}
		samples[j] = r.samples[idx]
		mask[j] = true
		anyValid = true
	}

	return samples, mask, anyValid
}

// hasGap reports whether startTime implies a discontinuity larger than
// 2/rate since the last accepted packet's end, which forces a filter reset
// before the new packet is filtered.
func (r *ChannelRing) hasGap(startTime time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasLastEnd {
		return false
	}
	gap := startTime.Sub(r.lastEnd).Seconds()
	return gap > 2/r.rate
}

// resetFilter clears the channel's bandpass filter state.
func (r *ChannelRing) resetFilter() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bp.Reset()
}

// filterInPlace runs the channel's bandpass filter over samples, mutating
// them in place, under the ring's lock so filter state stays consistent
// with insertion order.
func (r *ChannelRing) filterInPlace(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bp.Apply(samples)
}

// Counters returns a snapshot of this ring's drop/resync counters.
func (r *ChannelRing) Counters() (droppedStale, droppedBad, droppedDuplicate, gapResyncs uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.droppedStale, r.droppedBad, r.droppedDuplicate, r.gapResyncs
}
