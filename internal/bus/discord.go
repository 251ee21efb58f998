package bus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// DiscordConfig is the narrow slice of config this leg needs.
type DiscordConfig struct {
	WebhookURL      string
	TimeoutSeconds  int
	WindowSeconds   float64
	ResetBelowPicks int
}

// DiscordBus is a per-county alarm-escalation webhook leg: it tracks the
// worst intensity seen per county across ticks and posts a notice only when
// a county is newly alarmed or has escalated since the last notice, at most
// once every WindowSeconds. Grounded on ttsam_realtime.py's reporter() /
// format_earthquake_report() / send_discord().
type DiscordBus struct {
	cfg      DiscordConfig
	countyOf map[string]string
	client   *http.Client
	clock    clockwork.Clock
	log      *slog.Logger

	mu              sync.Mutex
	alarmCounty     map[string]types.IntensityLabel
	pastAlarmCounty map[string]types.IntensityLabel
	windowStart     time.Time

	sent   uint64
	errors uint64
}

// NewDiscordBus builds a DiscordBus. cat supplies the target-to-county
// roll-up, taken once from the static catalog at construction since the
// catalog never changes after startup.
func NewDiscordBus(cfg DiscordConfig, cat catalog.Catalog, clock clockwork.Clock, log *slog.Logger) *DiscordBus {
	if log == nil {
		log = slog.Default()
	}
	countyOf := make(map[string]string)
	for _, tgt := range cat.TargetList() {
		countyOf[tgt.Name] = tgt.County
	}
	return &DiscordBus{
		cfg:             cfg,
		countyOf:        countyOf,
		client:          &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		clock:           clock,
		log:             log,
		alarmCounty:     make(map[string]types.IntensityLabel),
		pastAlarmCounty: make(map[string]types.IntensityLabel),
	}
}

// Publish updates the per-county alarm tracker from report and, at most
// once every WindowSeconds, posts a notice for any county that is newly
// alarmed or has escalated since the last notice. Non-OK reports carry no
// per-target intensities and are ignored, matching the original's reporter
// loop which only ever receives finished reports.
func (b *DiscordBus) Publish(report types.Report) {
	if report.Kind != types.ReportOK {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if report.PicksCount < b.cfg.ResetBelowPicks {
		b.alarmCounty = make(map[string]types.IntensityLabel)
		b.pastAlarmCounty = make(map[string]types.IntensityLabel)
		b.windowStart = time.Time{}
		return
	}

	for target, label := range report.PerTarget {
		county := b.countyOf[target]
		if county == "" || label.Rank() < 0 {
			continue
		}
		if existing, ok := b.alarmCounty[county]; !ok || label.Rank() > existing.Rank() {
			b.alarmCounty[county] = label
		}
	}

	now := b.clock.Now()
	if !b.windowStart.IsZero() && now.Sub(b.windowStart).Seconds() < b.cfg.WindowSeconds {
		return
	}
	b.windowStart = now

	notice := b.newEscalations()
	if len(notice) == 0 {
		return
	}
	for county, label := range notice {
		b.pastAlarmCounty[county] = label
	}
	b.send(report, notice)
}

// newEscalations returns the counties in alarmCounty that are either not in
// pastAlarmCounty at all, or whose intensity has increased since the last
// notice sent for them. Caller holds b.mu.
func (b *DiscordBus) newEscalations() map[string]types.IntensityLabel {
	notice := make(map[string]types.IntensityLabel)
	for county, label := range b.alarmCounty {
		past, ok := b.pastAlarmCounty[county]
		if !ok || label.Rank() > past.Rank() {
			notice[county] = label
		}
	}
	return notice
}

// send posts the formatted escalation notice to the Discord webhook.
// Failures are logged and counted, never propagated, matching MQTTBus's
// fire-and-forget error handling. Caller holds b.mu.
func (b *DiscordBus) send(report types.Report, notice map[string]types.IntensityLabel) {
	body, err := json.Marshal(map[string]string{"content": formatEscalation(report, notice)})
	if err != nil {
		b.errors++
		b.log.Error("failed to marshal discord escalation notice", "error", err, "event_id", report.EventID)
		return
	}

	req, err := http.NewRequest(http.MethodPost, b.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		b.errors++
		b.log.Error("failed to build discord webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		b.errors++
		b.log.Warn("discord webhook post failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b.errors++
		b.log.Warn("discord webhook returned non-success status", "status", resp.StatusCode)
		return
	}

	b.sent++
}

// formatEscalation renders a short human-readable escalation notice,
// counties sorted by descending severity then name, grounded on
// format_earthquake_report()'s layout.
func formatEscalation(report types.Report, notice map[string]types.IntensityLabel) string {
	counties := make([]string, 0, len(notice))
	for county := range notice {
		counties = append(counties, county)
	}
	sort.Slice(counties, func(i, j int) bool {
		ri, rj := notice[counties[i]].Rank(), notice[counties[j]].Rank()
		if ri != rj {
			return ri > rj
		}
		return counties[i] < counties[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Earthquake alert: event %d, tick %d\n", report.EventID, report.TickIndex)
	fmt.Fprintf(&b, "Alert time: %s\n", report.ReportTime.UTC().Format(time.RFC3339))
	b.WriteString("New/escalated counties:\n")
	for _, county := range counties {
		fmt.Fprintf(&b, "  %s: intensity %s\n", county, notice[county])
	}
	fmt.Fprintf(&b, "Wave lag: %.2fs, picks: %d, compute time: %.3fs",
		report.WaveLagSeconds, report.PicksCount, report.ComputeTimeSecond)
	return b.String()
}

// Stats returns a snapshot of send bookkeeping, for diagnostics.
func (b *DiscordBus) Stats() (sent, errors uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent, b.errors
}
