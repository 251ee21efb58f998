// Package types defines the shared data model that flows between the
// wave buffer, pick aggregator, tensor assembler and inference dispatcher.
package types

import "time"

// Channel identifies one of the three seismometer components.
type Channel string

const (
	ChannelZ Channel = "Z"
	ChannelN Channel = "N"
	ChannelE Channel = "E"
)

// WaveformPacket is a short burst of samples for one (station, channel) as
// produced by the upstream waveform transport.
type WaveformPacket struct {
	StationID    string
	ChannelID    Channel
	SampleRateHz float64
	StartTime    time.Time
	EndTime      time.Time
	Samples      []float64
	Gain         float64
}

// PickPhase identifies the seismic phase a pick was made on.
type PickPhase string

const (
	PhaseP PickPhase = "P"
	PhaseS PickPhase = "S"
)

// Pick is a single phase-arrival observation from the upstream picker.
type Pick struct {
	StationID      string
	Phase          PickPhase
	PickTime       time.Time
	Weight         float64
	AmplitudeProxy float64
}

// StationMeta is the static catalog record for one station.
type StationMeta struct {
	StationID string
	Latitude  float64
	Longitude float64
	Elevation float64
	Vs30      *float64
	SiteClass string
}

// Target is a named geographic point at which intensity is forecast. County
// groups targets for the alarm_counties report field; it is empty for
// targets that do not belong to a named administrative area.
type Target struct {
	Name      string
	County    string
	Latitude  float64
	Longitude float64
	Vs30      float64
}

// TickRequest is emitted by the pick aggregator to request one inference
// invocation for an active event.
type TickRequest struct {
	EventID     uint64
	TickIndex   int
	WaveEndTime time.Time
	// EventFirstPickTime is the pick time that triggered the event, shared
	// by every tick of the event; the dispatcher uses it to report how far
	// the wave window has advanced since the event began.
	EventFirstPickTime time.Time
	StationPickOrder   []string
	// StationFirstPickTime records, for every station in StationPickOrder,
	// the time of its earliest accepted pick within this event; the tensor
	// assembler uses it to fill the seconds_since_first_pick metadata column.
	StationFirstPickTime map[string]time.Time
	PicksCount           int
	Terminal             bool
}

// ChannelBlock is a read-window snapshot of one station's three components.
type ChannelBlock struct {
	Z, N, E []float64
	Mask    []bool // true where the sample at that index is valid
}

// GaussianMixture is the per-target output of the predictor: a mixture of M
// Gaussians over log-PGA.
type GaussianMixture struct {
	Weights   []float64
	Means     []float64
	LogStdDev []float64
}
