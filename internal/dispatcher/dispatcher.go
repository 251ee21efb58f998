// Package dispatcher implements the Inference Dispatcher: the
// single-consumer pump that serializes Predictor calls, converts MDN output
// into intensity labels, persists the per-event report log, and publishes
// outward.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/bus"
	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/config"
	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/reports"
	"github.com/e7canasta/ttsam-go/internal/tensor"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// Config carries the dispatcher's own tunables (the hot-adjustable ones
// live in config.RuntimeTunable instead, see New).
type Config struct {
	PredictTimeoutSeconds float64
	ReportDir             string
}

// Dispatcher is Thread D: the sole caller of Predictor.Predict, and the sole
// writer of each event's report log.
type Dispatcher struct {
	cfg       Config
	assembler *tensor.Assembler
	predictor types.Predictor
	catalog   catalog.Catalog
	tunables  *config.RuntimeTunable
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	outward   bus.OutwardBus
	view      bus.ViewChannel
	log       *slog.Logger

	currentEventID uint64
	currentLog     *reports.EventLog

	onDispatch func()
}

// New builds a Dispatcher. tunables must be non-nil; it is the live source
// of intensity_cutoff / alarm_min_intensity for every tick.
func New(cfg Config, assembler *tensor.Assembler, predictor types.Predictor, cat catalog.Catalog, tunables *config.RuntimeTunable, clock clockwork.Clock, m *metrics.Metrics, outward bus.OutwardBus, view bus.ViewChannel, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:       cfg,
		assembler: assembler,
		predictor: predictor,
		catalog:   cat,
		tunables:  tunables,
		clock:     clock,
		metrics:   m,
		outward:   outward,
		view:      view,
		log:       log,
	}
}

// OnDispatch registers a hook invoked synchronously after every dispatched
// tick, for callers (the service orchestrator) that need to observe
// liveness without duplicating the drive loop.
func (d *Dispatcher) OnDispatch(fn func()) {
	d.onDispatch = fn
}

// Run drives the dispatcher until ticks closes or ctx is cancelled. On
// either exit path it drains whatever is already queued on ticks and
// dispatches it before returning, so a terminal tick enqueued at the same
// moment ctx is cancelled is never silently dropped, per spec.md section
// 7's "each thread drains its input channel, finalizes any in-flight tick,
// and exits."
func (d *Dispatcher) Run(ctx context.Context, ticks <-chan types.TickRequest) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ticks)
			d.closeCurrentLog()
			return
		case req, ok := <-ticks:
			if !ok {
				d.closeCurrentLog()
				return
			}
			d.dispatchAndNotify(ctx, req)
		}
	}
}

// drain dispatches every tick already queued on ticks without blocking.
func (d *Dispatcher) drain(ticks <-chan types.TickRequest) {
	for {
		select {
		case req, ok := <-ticks:
			if !ok {
				return
			}
			d.dispatchAndNotify(context.Background(), req)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatchAndNotify(ctx context.Context, req types.TickRequest) {
	d.Dispatch(ctx, req)
	if d.onDispatch != nil {
		d.onDispatch()
	}
}

// Dispatch runs the full per-tick sequence from spec.md section 4.4 for one
// TickRequest.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.TickRequest) {
	tStart := d.clock.Now()

	input, err := d.assembler.Assemble(req)
	if err != nil {
		if errors.Is(err, errs.ErrInsufficientData) {
			d.metrics.InsufficientDataHit.Inc()
			d.log.Debug("tick skipped: insufficient data", "event_id", req.EventID, "tick_index", req.TickIndex)
			if req.Terminal {
				d.closeCurrentLog()
			}
			return
		}
		d.log.Error("tensor assembly failed", "error", err, "event_id", req.EventID)
		return
	}

	report := d.runPredict(ctx, req, input, tStart)

	d.persist(req, report)
	d.outward.Publish(report)
	d.view.Push(report)

	d.metrics.TicksTotal.Inc()

	if req.Terminal {
		d.closeCurrentLog()
	}
}

// runPredict invokes the Predictor under a soft timeout and converts its
// output (or failure) into a Report.
func (d *Dispatcher) runPredict(ctx context.Context, req types.TickRequest, input types.InferenceInput, tStart time.Time) types.Report {
	timeout := time.Duration(d.cfg.PredictTimeoutSeconds * float64(time.Second))
	predictCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.clock.Now()
	output, err := d.predictor.Predict(predictCtx, input)
	d.metrics.PredictDuration.Observe(d.clock.Now().Sub(start).Seconds())

	now := d.clock.Now()
	base := types.Report{
		EventID:         req.EventID,
		TickIndex:       req.TickIndex,
		TraceID:         uuid.NewString(),
		ReportTime:      now,
		WaveEndTime:     req.WaveEndTime,
		WaveTimeSeconds: req.WaveEndTime.Sub(req.EventFirstPickTime).Seconds(),
		WaveLagSeconds:  now.Sub(req.WaveEndTime).Seconds(),
		PicksCount:      req.PicksCount,
	}
	base.ComputeTimeSecond = now.Sub(tStart).Seconds()

	switch {
	case err == nil:
		base.Kind = types.ReportOK
		base.PerTarget, base.AlarmTargets, base.AlarmCounties = d.labelTargets(output)
	case errors.Is(predictCtx.Err(), context.DeadlineExceeded):
		base.Kind = types.ReportPredictTimeout
		d.metrics.PredictErrors.WithLabelValues("timeout").Inc()
		d.log.Warn("predictor call timed out", "event_id", req.EventID, "tick_index", req.TickIndex)
	default:
		base.Kind = types.ReportPredictFailed
		d.metrics.PredictErrors.WithLabelValues("failed").Inc()
		d.log.Error("predictor call failed", "error", err, "event_id", req.EventID, "tick_index", req.TickIndex)
	}

	return base
}

// labelTargets converts the predictor's mixtures into per-target intensity
// labels and the ordered alarm lists, per spec.md section 4.4 steps 3-4.
func (d *Dispatcher) labelTargets(output types.InferenceOutput) (map[string]types.IntensityLabel, []string, []string) {
	targets := d.catalog.TargetList()
	cutoff := d.tunables.IntensityCutoff()
	alarmMin := types.IntensityLabel(d.tunables.AlarmMinIntensity())
	alarmMinRank := alarmMin.Rank()

	perTarget := make(map[string]types.IntensityLabel, len(targets))
	type alarmEntry struct {
		name   string
		county string
		label  types.IntensityLabel
		rank   int
	}
	var alarms []alarmEntry

	for i, tgt := range targets {
		if i >= len(output.Mixtures) {
			break
		}
		label := labelFor(output.Mixtures[i], cutoff)
		perTarget[tgt.Name] = label

		if alarmMinRank >= 0 && label.Rank() >= alarmMinRank {
			alarms = append(alarms, alarmEntry{name: tgt.Name, county: tgt.County, label: label, rank: label.Rank()})
		}
	}

	sort.Slice(alarms, func(i, j int) bool {
		if alarms[i].rank != alarms[j].rank {
			return alarms[i].rank > alarms[j].rank
		}
		return alarms[i].name < alarms[j].name
	})

	alarmTargets := make([]string, 0, len(alarms))
	countySeen := make(map[string]bool)
	var alarmCounties []string
	for _, a := range alarms {
		alarmTargets = append(alarmTargets, a.name)
		if a.county != "" && !countySeen[a.county] {
			countySeen[a.county] = true
			alarmCounties = append(alarmCounties, a.county)
		}
	}
	sort.Strings(alarmCounties)

	return perTarget, alarmTargets, alarmCounties
}

// persist appends report to the current event's log, opening a new log file
// when this is the first tick for the event.
func (d *Dispatcher) persist(req types.TickRequest, report types.Report) {
	if d.currentLog == nil || d.currentEventID != req.EventID {
		d.closeCurrentLog()

		l, err := reports.NewEventLog(d.cfg.ReportDir, req.EventID, report.ReportTime)
		if err != nil {
			d.metrics.ReportWriteErrors.Inc()
			d.log.Error("failed to open event log", "error", err, "event_id", req.EventID)
			return
		}
		d.currentLog = l
		d.currentEventID = req.EventID
	}

	if err := d.currentLog.Append(report); err != nil {
		d.metrics.ReportWriteErrors.Inc()
		d.log.Error("failed to append report line", "error", err, "event_id", req.EventID)
	}
}

func (d *Dispatcher) closeCurrentLog() {
	if d.currentLog == nil {
		return
	}
	if err := d.currentLog.Close(); err != nil {
		d.log.Error("failed to close event log", "error", err, "event_id", d.currentEventID)
	}
	d.currentLog = nil
}
