// Package pickaggregator maintains the deduplicated, time-keyed view of
// P-phase picks and the Idle/Active event state machine that promotes a
// qualifying co-pick set into a seismic event and drives its tick cadence.
package pickaggregator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/geo"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// Config carries every pick-aggregator tunable from spec.md section 4.2.
type Config struct {
	TriggerMinStations   int
	TriggerWindowSeconds float64
	TriggerSpatialKM     float64
	EventLingerSeconds   float64
	EventDrainSeconds    float64
	TickIntervalSeconds  float64
	InitialDelaySeconds  float64
	EpsilonPickSeconds   float64
}

// pollInterval is the coarse cooperative timer tick spec.md 4.2 specifies.
const pollInterval = 100 * time.Millisecond

type state int

const (
	stateIdle state = iota
	stateActive
)

// activeEvent is the aggregator's sole mutable record of the current event.
// It is owned exclusively by the Aggregator's Run goroutine.
type activeEvent struct {
	eventID          uint64
	firstPickTime    time.Time
	firstPickByStn   map[string]time.Time
	lastAcceptedTime time.Time
	ticksEmitted     int
	nextTickAt       time.Time
}

// Aggregator is the single-threaded Pick Aggregator / Event Trigger. All
// state below is touched only from the goroutine running Run; this mirrors
// spec.md 5's "Thread P" ownership model rather than guarding every field
// with a mutex.
type Aggregator struct {
	cfg     Config
	catalog catalog.Catalog
	clock   clockwork.Clock
	metrics *metrics.Metrics
	log     *slog.Logger

	picksIn  <-chan types.Pick
	ticksOut chan types.TickRequest

	lastPick   map[string]types.Pick // latest accepted pick per station, for dedup
	idleWindow []types.Pick          // recent picks awaiting a trigger decision

	state       state
	event       *activeEvent
	nextEventID uint64
}

// New builds an Aggregator reading from picksIn and emitting TickRequests on
// a channel of capacity 8, matching spec.md 5's bounded-channel contract.
func New(cfg Config, cat catalog.Catalog, clock clockwork.Clock, m *metrics.Metrics, log *slog.Logger, picksIn <-chan types.Pick) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		cfg:      cfg,
		catalog:  cat,
		clock:    clock,
		metrics:  m,
		log:      log,
		picksIn:  picksIn,
		ticksOut: make(chan types.TickRequest, 8),
		lastPick: make(map[string]types.Pick),
	}
}

// Ticks exposes the aggregator's TickRequest output channel.
func (a *Aggregator) Ticks() <-chan types.TickRequest {
	return a.ticksOut
}

// Run drives the state machine until ctx is cancelled or picksIn closes. On
// exit it finalizes any active event with one terminal tick.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.finalizeOnShutdown()
			return
		case p, ok := <-a.picksIn:
			if !ok {
				a.finalizeOnShutdown()
				return
			}
			a.handlePick(p)
		case <-ticker.Chan():
			a.handleTimerTick()
		}
	}
}

func (a *Aggregator) finalizeOnShutdown() {
	if a.state == stateActive {
		a.emitTerminal()
	}
}

// handlePick deduplicates, then routes the pick to the idle predicate check
// or the active event, per spec.md 4.2.
func (a *Aggregator) handlePick(p types.Pick) {
	if p.Phase != types.PhaseP {
		return
	}

	accepted, duplicate := a.dedup(p)
	if duplicate {
		a.metrics.PicksDeduplicated.Inc()
		return
	}

	switch a.state {
	case stateIdle:
		a.handleIdlePick(accepted)
	case stateActive:
		a.handleActivePick(accepted)
	}
}

// dedup applies the EPSILON_PICK tie-break: a new pick within epsilon of the
// last accepted pick for the same station is discarded unless it carries a
// strictly higher weight, in which case it replaces the prior record.
func (a *Aggregator) dedup(p types.Pick) (types.Pick, bool) {
	prev, ok := a.lastPick[p.StationID]
	if !ok {
		a.lastPick[p.StationID] = p
		return p, false
	}

	delta := p.PickTime.Sub(prev.PickTime)
	if delta < 0 {
		delta = -delta
	}
	if delta.Seconds() >= a.cfg.EpsilonPickSeconds {
		a.lastPick[p.StationID] = p
		return p, false
	}

	if p.Weight > prev.Weight {
		a.lastPick[p.StationID] = p
		return p, false
	}

	return prev, true
}

// handleIdlePick folds an accepted pick into the idle window, prunes it to
// TRIGGER_WINDOW_SECONDS, then checks the co-pick predicate.
func (a *Aggregator) handleIdlePick(p types.Pick) {
	a.idleWindow = append(a.idleWindow, p)
	a.pruneIdleWindow()

	if a.triggerSatisfied(a.idleWindow) {
		a.promoteEvent(a.idleWindow)
	}
}

// pruneIdleWindow drops picks (and superseded per-station entries) older
// than TRIGGER_WINDOW_SECONDS before the most recent pick in the window.
func (a *Aggregator) pruneIdleWindow() {
	if len(a.idleWindow) == 0 {
		return
	}

	latest := a.idleWindow[0].PickTime
	for _, p := range a.idleWindow {
		if p.PickTime.After(latest) {
			latest = p.PickTime
		}
	}
	cutoff := latest.Add(-time.Duration(a.cfg.TriggerWindowSeconds * float64(time.Second)))

	keep := make(map[string]types.Pick)
	for _, p := range a.idleWindow {
		if p.PickTime.Before(cutoff) {
			continue
		}
		if existing, ok := keep[p.StationID]; !ok || p.PickTime.Before(existing.PickTime) {
			keep[p.StationID] = p
		}
	}

	next := make([]types.Pick, 0, len(keep))
	for _, p := range keep {
		next = append(next, p)
	}
	a.idleWindow = next
}

// triggerSatisfied implements the TRIGGER_MIN_STATIONS / WINDOW / SPATIAL_KM
// predicate from spec.md 4.2 over one station's worth of pick each.
func (a *Aggregator) triggerSatisfied(picks []types.Pick) bool {
	if len(picks) < a.cfg.TriggerMinStations {
		return false
	}

	minT, maxT := picks[0].PickTime, picks[0].PickTime
	for _, p := range picks {
		if p.PickTime.Before(minT) {
			minT = p.PickTime
		}
		if p.PickTime.After(maxT) {
			maxT = p.PickTime
		}
	}
	if maxT.Sub(minT).Seconds() > a.cfg.TriggerWindowSeconds {
		return false
	}

	metas := make([]types.StationMeta, 0, len(picks))
	for _, p := range picks {
		meta, err := a.catalog.StationMeta(p.StationID)
		if err != nil {
			// A station with no catalog entry cannot be placed spatially;
			// it cannot contribute to the predicate.
			return false
		}
		metas = append(metas, meta)
	}

	for i := 0; i < len(metas); i++ {
		for j := i + 1; j < len(metas); j++ {
			d := geo.HaversineKM(metas[i].Latitude, metas[i].Longitude, metas[j].Latitude, metas[j].Longitude)
			if d > a.cfg.TriggerSpatialKM {
				return false
			}
		}
	}

	return true
}

// promoteEvent transitions Idle to Active, seeding the event's per-station
// first-pick-time map from the satisfying idle window.
func (a *Aggregator) promoteEvent(picks []types.Pick) {
	a.nextEventID++

	byStn := make(map[string]time.Time, len(picks))
	var first time.Time
	var last time.Time
	for i, p := range picks {
		byStn[p.StationID] = p.PickTime
		if i == 0 || p.PickTime.Before(first) {
			first = p.PickTime
		}
		if i == 0 || p.PickTime.After(last) {
			last = p.PickTime
		}
	}

	ev := &activeEvent{
		eventID:          a.nextEventID,
		firstPickTime:    first,
		firstPickByStn:   byStn,
		lastAcceptedTime: last,
	}
	ev.nextTickAt = first.Add(time.Duration(a.cfg.InitialDelaySeconds * float64(time.Second)))

	a.event = ev
	a.state = stateActive
	a.idleWindow = nil
	a.metrics.EventsTotal.Inc()
	a.metrics.ActiveEvents.Set(1)

	a.log.Info("event trigger fired",
		"event_id", ev.eventID,
		"stations", len(byStn),
		"first_pick_time", first,
	)
}

// handleActivePick folds an additional pick into the active event if it
// arrives within EVENT_LINGER_SECONDS of the last accepted pick; picks that
// arrive too late are dropped, not re-queued into a new idle window.
func (a *Aggregator) handleActivePick(p types.Pick) {
	ev := a.event
	linger := time.Duration(a.cfg.EventLingerSeconds * float64(time.Second))
	if p.PickTime.Sub(ev.lastAcceptedTime) > linger {
		return
	}

	if _, seen := ev.firstPickByStn[p.StationID]; !seen {
		ev.firstPickByStn[p.StationID] = p.PickTime
	}
	if p.PickTime.After(ev.lastAcceptedTime) {
		ev.lastAcceptedTime = p.PickTime
	}
}

// handleTimerTick is the coarse 100ms cooperative check: fires any tick
// whose wall-clock time has arrived, and drains the event if it has been
// silent for EVENT_DRAIN_SECONDS.
func (a *Aggregator) handleTimerTick() {
	if a.state != stateActive {
		return
	}

	now := a.clock.Now()
	ev := a.event

	drain := time.Duration(a.cfg.EventDrainSeconds * float64(time.Second))
	if now.Sub(ev.lastAcceptedTime) > drain {
		a.emitTerminal()
		return
	}

	interval := time.Duration(a.cfg.TickIntervalSeconds * float64(time.Second))
	for !now.Before(ev.nextTickAt) {
		a.emitTick(false)
		ev.nextTickAt = ev.nextTickAt.Add(interval)
	}
}

// emitTick builds and sends one TickRequest for the current active event.
func (a *Aggregator) emitTick(terminal bool) {
	ev := a.event
	now := a.clock.Now()

	// spec.md 99: wave_end_time = min(now, latest_pick_time + TICK_INTERVAL_SECONDS * tick_index).
	expected := ev.lastAcceptedTime.
		Add(time.Duration(float64(ev.ticksEmitted) * a.cfg.TickIntervalSeconds * float64(time.Second)))
	waveEnd := now
	if expected.Before(waveEnd) {
		waveEnd = expected
	}

	order := a.orderedStations(ev)
	firstPickByStn := make(map[string]time.Time, len(order))
	for _, id := range order {
		firstPickByStn[id] = ev.firstPickByStn[id]
	}

	req := types.TickRequest{
		EventID:              ev.eventID,
		TickIndex:            ev.ticksEmitted,
		WaveEndTime:          waveEnd,
		EventFirstPickTime:   ev.firstPickTime,
		StationPickOrder:     order,
		StationFirstPickTime: firstPickByStn,
		PicksCount:           len(ev.firstPickByStn),
		Terminal:             terminal,
	}

	ev.ticksEmitted++
	a.send(req)
}

// emitTerminal sends a final TickRequest and returns the aggregator to Idle.
func (a *Aggregator) emitTerminal() {
	a.emitTick(true)
	a.log.Info("event drained", "event_id", a.event.eventID, "ticks_emitted", a.event.ticksEmitted)
	a.state = stateIdle
	a.event = nil
	a.metrics.ActiveEvents.Set(0)
}

// orderedStations returns the event's participating stations sorted by
// ascending first-pick time, tie-broken by station_id, per spec.md 3.
func (a *Aggregator) orderedStations(ev *activeEvent) []string {
	ids := make([]string, 0, len(ev.firstPickByStn))
	for id := range ev.firstPickByStn {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := ev.firstPickByStn[ids[i]], ev.firstPickByStn[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids
}

// send enqueues a tick request, dropping the oldest non-terminal queued
// request to make room when the channel is full, per spec.md 5's
// back-pressure policy. A terminal tick is the only record that an event
// ended, so it is never the one evicted: send is only ever called from the
// goroutine running Run, so draining and refilling the channel here races
// with nothing but the consumer's reads.
func (a *Aggregator) send(req types.TickRequest) {
	select {
	case a.ticksOut <- req:
		return
	default:
	}

	pending := make([]types.TickRequest, 0, cap(a.ticksOut))
	for {
		select {
		case r := <-a.ticksOut:
			pending = append(pending, r)
			continue
		default:
		}
		break
	}

	dropped := false
	for i, r := range pending {
		if !r.Terminal {
			pending = append(pending[:i], pending[i+1:]...)
			dropped = true
			break
		}
	}
	if !dropped && len(pending) > 0 {
		// Every queued tick is terminal: there is nothing non-terminal
		// left to drop, so the oldest terminal tick gives way instead of
		// blocking the aggregator forever.
		pending = pending[1:]
	}

	for _, r := range pending {
		a.ticksOut <- r
	}
	a.ticksOut <- req
}
