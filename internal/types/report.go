package types

import (
	"encoding/json"
	"time"
)

// IntensityLabel is a member of the closed Taiwan-scale intensity set.
type IntensityLabel string

const (
	Intensity0  IntensityLabel = "0"
	Intensity1  IntensityLabel = "1"
	Intensity2  IntensityLabel = "2"
	Intensity3  IntensityLabel = "3"
	Intensity4  IntensityLabel = "4"
	Intensity5m IntensityLabel = "5-"
	Intensity5p IntensityLabel = "5+"
	Intensity6m IntensityLabel = "6-"
	Intensity6p IntensityLabel = "6+"
	Intensity7  IntensityLabel = "7"
)

// intensityOrder is the closed set in ascending severity, used for ordering
// and alarm comparisons.
var intensityOrder = []IntensityLabel{
	Intensity0, Intensity1, Intensity2, Intensity3, Intensity4,
	Intensity5m, Intensity5p, Intensity6m, Intensity6p, Intensity7,
}

// Rank returns the ascending severity rank of a label, or -1 if unknown.
func (l IntensityLabel) Rank() int {
	for i, v := range intensityOrder {
		if v == l {
			return i
		}
	}
	return -1
}

// ReportKind distinguishes a normal tick report from an error stand-in.
type ReportKind string

const (
	ReportOK             ReportKind = "ok"
	ReportPredictFailed  ReportKind = "predict_failed"
	ReportPredictTimeout ReportKind = "predict_timeout"
)

// Report is the structured result of one inference tick, persisted to the
// event log and published outward.
type Report struct {
	EventID     uint64     `json:"event_id"`
	TickIndex   int        `json:"tick_index"`
	TraceID     string     `json:"trace_id"`
	Kind        ReportKind `json:"kind"`
	ReportTime  time.Time  `json:"report_time"`
	WaveEndTime time.Time  `json:"wave_endt"`
	// WaveTimeSeconds is the number of seconds between the event's
	// triggering pick and WaveEndTime, per spec.md section 6's wave_time
	// wire field (distinct from wave_endt, the absolute timestamp).
	WaveTimeSeconds   float64                   `json:"wave_time"`
	WaveLagSeconds    float64                   `json:"wave_lag"`
	ComputeTimeSecond float64                   `json:"run_time"`
	PicksCount        int                       `json:"picks"`
	PerTarget         map[string]IntensityLabel `json:"-"`
	AlarmTargets      []string                  `json:"alarm"`
	AlarmCounties     []string                  `json:"alarm_county"`
}

// MarshalJSON flattens PerTarget into the same object, one key per target
// name, alongside the fixed report fields, per the outward-bus contract in
// spec.md section 6.
func (r Report) MarshalJSON() ([]byte, error) {
	flat := map[string]interface{}{
		"event_id":     r.EventID,
		"tick_index":   r.TickIndex,
		"trace_id":     r.TraceID,
		"kind":         r.Kind,
		"report_time":  r.ReportTime.UTC().Format(time.RFC3339),
		"wave_time":    r.WaveTimeSeconds,
		"wave_endt":    r.WaveEndTime.UTC().Format(time.RFC3339),
		"wave_lag":     r.WaveLagSeconds,
		"run_time":     r.ComputeTimeSecond,
		"picks":        r.PicksCount,
		"alarm":        r.AlarmTargets,
		"alarm_county": r.AlarmCounties,
	}
	for target, label := range r.PerTarget {
		flat[target] = label
	}
	return json.Marshal(flat)
}

// UnmarshalJSON parses a Report back out of its flattened wire form. Any key
// not matching a fixed field is treated as a per-target intensity label,
// except keys the reader does not recognize, which are ignored per the
// "consumers must ignore unknown keys" contract.
func (r *Report) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	fixed := map[string]bool{
		"event_id": true, "tick_index": true, "trace_id": true, "kind": true,
		"report_time": true, "wave_time": true, "wave_endt": true,
		"wave_lag": true, "run_time": true, "picks": true,
		"alarm": true, "alarm_county": true,
	}

	if v, ok := flat["event_id"]; ok {
		if err := json.Unmarshal(v, &r.EventID); err != nil {
			return err
		}
	}
	if v, ok := flat["tick_index"]; ok {
		if err := json.Unmarshal(v, &r.TickIndex); err != nil {
			return err
		}
	}
	if v, ok := flat["trace_id"]; ok {
		_ = json.Unmarshal(v, &r.TraceID)
	}
	if v, ok := flat["kind"]; ok {
		_ = json.Unmarshal(v, &r.Kind)
	}
	if v, ok := flat["report_time"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.ReportTime, _ = time.Parse(time.RFC3339, s)
		}
	}
	if v, ok := flat["wave_endt"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			r.WaveEndTime, _ = time.Parse(time.RFC3339, s)
		}
	}
	if v, ok := flat["wave_time"]; ok {
		if err := json.Unmarshal(v, &r.WaveTimeSeconds); err != nil {
			return err
		}
	}
	if v, ok := flat["wave_lag"]; ok {
		if err := json.Unmarshal(v, &r.WaveLagSeconds); err != nil {
			return err
		}
	}
	if v, ok := flat["run_time"]; ok {
		if err := json.Unmarshal(v, &r.ComputeTimeSecond); err != nil {
			return err
		}
	}
	if v, ok := flat["picks"]; ok {
		if err := json.Unmarshal(v, &r.PicksCount); err != nil {
			return err
		}
	}
	if v, ok := flat["alarm"]; ok {
		_ = json.Unmarshal(v, &r.AlarmTargets)
	}
	if v, ok := flat["alarm_county"]; ok {
		_ = json.Unmarshal(v, &r.AlarmCounties)
	}

	r.PerTarget = make(map[string]IntensityLabel)
	for k, v := range flat {
		if fixed[k] {
			continue
		}
		var label IntensityLabel
		if err := json.Unmarshal(v, &label); err != nil {
			continue
		}
		r.PerTarget[k] = label
	}

	return nil
}
