package wavebuffer

import (
	"math"
	"time"

	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/filter"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// stationRings holds the three per-channel rings for one station. The
// pointer is never replaced after construction, so concurrent readers need
// no lock to dereference it; all mutation happens inside the per-channel
// ring's own mutex.
type stationRings struct {
	z, n, e *ChannelRing
}

// Config carries the wave buffer's tunables, a narrow slice of the overall
// service Config so this package does not depend on internal/config.
type Config struct {
	WindowSeconds  float64
	SampleRateHz   float64
	BandpassLowHz  float64
	BandpassHighHz float64
	BandpassOrder  int
}

// Buffer is the bounded, per-channel ring store. The station set is fixed
// at construction time from the static catalog, so Thread W's ring lookups
// are plain, lock-free map reads (spec.md section 5).
type Buffer struct {
	cfg      Config
	stations map[string]*stationRings
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds a Buffer pre-registering one set of Z/N/E rings for every
// station_id in stationIDs, matching the invariant that a station's
// metadata (and hence its ring) exists before ingestion can begin for it.
func New(cfg Config, stationIDs []string, m *metrics.Metrics) *Buffer {
	b := &Buffer{
		cfg:      cfg,
		stations: make(map[string]*stationRings, len(stationIDs)),
		metrics:  m,
		now:      time.Now,
	}
	for _, id := range stationIDs {
		b.stations[id] = b.newStationRings()
	}
	return b
}

func (b *Buffer) newStationRings() *stationRings {
	anchor := b.now()
	mk := func() *ChannelRing {
		bp := filter.NewBandpass(b.cfg.BandpassLowHz, b.cfg.BandpassHighHz, b.cfg.BandpassOrder, b.cfg.SampleRateHz)
		return NewChannelRing(anchor, b.cfg.SampleRateHz, b.cfg.WindowSeconds, bp)
	}
	return &stationRings{z: mk(), n: mk(), e: mk()}
}

func (b *Buffer) ringFor(stationID string, ch types.Channel) *ChannelRing {
	sr, ok := b.stations[stationID]
	if !ok {
		return nil
	}
	switch ch {
	case types.ChannelZ:
		return sr.z
	case types.ChannelN:
		return sr.n
	case types.ChannelE:
		return sr.e
	default:
		return nil
	}
}

// Insert absorbs one waveform packet. All failures are local: the ring
// continues and a counter is incremented, per spec.md section 7.
func (b *Buffer) Insert(p types.WaveformPacket) error {
	if p.SampleRateHz != b.cfg.SampleRateHz {
		b.metrics.DroppedPackets.WithLabelValues("unsupported_rate").Inc()
		return errs.ErrUnsupportedRate
	}

	expectedLen := int(math.Round(p.EndTime.Sub(p.StartTime).Seconds() * p.SampleRateHz))
	if expectedLen != len(p.Samples) {
		b.metrics.DroppedPackets.WithLabelValues("bad_packet").Inc()
		return errs.ErrBadPacket
	}

	ring := b.ringFor(p.StationID, p.ChannelID)
	if ring == nil {
		// Station unknown to the catalog: treated as absent, non-fatal.
		b.metrics.DroppedPackets.WithLabelValues("unknown_station").Inc()
		return errs.ErrCatalogMissing
	}

	normalized := make([]float64, len(p.Samples))
	gain := p.Gain
	if gain == 0 {
		gain = 1
	}
	for i, v := range p.Samples {
		normalized[i] = v / gain
	}

	// A packet entirely older than the ring's anchor is dropped before it
	// ever reaches gap detection or the filter: the Butterworth delay-line
	// state is shared across packets on this channel, so running it on a
	// packet that is about to be discarded would corrupt the filtering of
	// every subsequent accepted packet.
	if ring.isStale(p.StartTime, len(normalized)) {
		ring.bumpDroppedStale()
		b.metrics.DroppedPackets.WithLabelValues("stale").Inc()
		return nil
	}

	// A packet that carries no time past what the ring already holds is a
	// re-delivery: dropped before the filter for the same reason as a stale
	// packet, so re-running it through the shared delay line does not shift
	// the filtered output an already-accepted packet produced.
	if ring.isDuplicate(p.EndTime) {
		ring.bumpDroppedDuplicate()
		b.metrics.DroppedPackets.WithLabelValues("duplicate").Inc()
		return nil
	}

	if ring.hasGap(p.StartTime) {
		ring.resetFilter()
	}
	ring.filterInPlace(normalized)

	if ring.insert(p.StartTime, normalized) == resyncResult {
		b.metrics.GapResyncTotal.Inc()
	}

	return nil
}

// ReadWindow returns the last WindowSeconds of Z/N/E for a station ending
// at endTime. Returns ok=false if any of the three components has no
// overlapping data at all.
func (b *Buffer) ReadWindow(stationID string, endTime time.Time) (types.ChannelBlock, bool) {
	sr, ok := b.stations[stationID]
	if !ok {
		return types.ChannelBlock{}, false
	}

	windowSamples := int(math.Round(b.cfg.WindowSeconds * b.cfg.SampleRateHz))

	z, zMask, zAny := sr.z.readWindow(endTime, windowSamples)
	n, nMask, nAny := sr.n.readWindow(endTime, windowSamples)
	e, eMask, eAny := sr.e.readWindow(endTime, windowSamples)

	if !zAny || !nAny || !eAny {
		return types.ChannelBlock{}, false
	}

	mask := make([]bool, windowSamples)
	for i := 0; i < windowSamples; i++ {
		mask[i] = zMask[i] && nMask[i] && eMask[i]
	}

	return types.ChannelBlock{Z: z, N: n, E: e, Mask: mask}, true
}

// WindowSamples returns the configured fixed window length in samples.
func (b *Buffer) WindowSamples() int {
	return int(math.Round(b.cfg.WindowSeconds * b.cfg.SampleRateHz))
}

// KnownStations reports every station_id the buffer has rings for.
func (b *Buffer) KnownStations() []string {
	ids := make([]string, 0, len(b.stations))
	for id := range b.stations {
		ids = append(ids, id)
	}
	return ids
}
