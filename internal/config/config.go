// Package config defines the explicit configuration record for the
// forecaster and the YAML/environment loading path that populates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the complete, explicit configuration record. Every tunable named
// in the design notes' "explicit configuration record" list is a field here;
// there is no dynamic string-keyed nested mapping.
type Config struct {
	InstanceID string `yaml:"instance_id"`

	WindowSeconds         float64 `yaml:"window_seconds"`
	NStationsMax          int     `yaml:"n_stations_max"`
	TickIntervalSeconds   float64 `yaml:"tick_interval"`
	InitialDelaySeconds   float64 `yaml:"initial_delay"`
	IntensityCutoff       float64 `yaml:"intensity_cutoff"`
	AlarmMinIntensity     string  `yaml:"alarm_min_intensity"`
	TriggerMinStations    int     `yaml:"trigger_min_stations"`
	TriggerWindowSeconds  float64 `yaml:"trigger_window_seconds"`
	TriggerSpatialKM      float64 `yaml:"trigger_spatial_km"`
	EventLingerSeconds    float64 `yaml:"event_linger_seconds"`
	EventDrainSeconds     float64 `yaml:"event_drain_seconds"`
	PredictTimeoutSeconds float64 `yaml:"predict_timeout_seconds"`
	EpsilonPickSeconds    float64 `yaml:"epsilon_pick_seconds"`

	BandpassLowHz  float64 `yaml:"bandpass_low_hz"`
	BandpassHighHz float64 `yaml:"bandpass_high_hz"`
	BandpassOrder  int     `yaml:"bandpass_order"`

	SampleRateHz float64 `yaml:"sample_rate_hz"`

	Catalog  CatalogConfig  `yaml:"catalog"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Discord  DiscordConfig  `yaml:"discord"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logs     LogsConfig     `yaml:"logs"`
	Health   HealthConfig   `yaml:"health"`
	Tunables RuntimeTunable `yaml:"-"`
}

// CatalogConfig points at the static site-catalog files; only the paths are
// configuration, loading itself is an external collaborator (spec.md 4.5).
type CatalogConfig struct {
	StationMetaPath string `yaml:"station_meta_path"`
	TargetListPath  string `yaml:"target_list_path"`
	Vs30GridPath    string `yaml:"vs30_grid_path"`
}

// MQTTConfig configures the outward-bus MQTT leg.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	ReportTopic  string `yaml:"report_topic"`
	QoS          byte   `yaml:"qos"`
	ConnectSecs  int    `yaml:"connect_timeout_seconds"`
	PublishSecs  int    `yaml:"publish_timeout_seconds"`
}

// DiscordConfig configures the outward-bus per-county alarm-escalation
// webhook leg. Empty WebhookURL disables the leg, mirroring MQTT's
// empty-Broker-disables convention.
type DiscordConfig struct {
	WebhookURL      string  `yaml:"webhook_url"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	WindowSeconds   float64 `yaml:"window_seconds"`
	ResetBelowPicks int     `yaml:"reset_below_picks"`
}

// KafkaConfig configures the alternate pick-transport leg.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// LogsConfig configures the append-only report/pick log directories.
type LogsConfig struct {
	ReportDir string `yaml:"report_dir"`
	PickDir   string `yaml:"pick_dir"`
}

// HealthConfig configures the health/metrics HTTP surface.
type HealthConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// RuntimeTunable holds the subset of tunables the dispatcher may adjust at
// runtime (e.g. via a future control-plane command), guarded by mu so
// concurrent readers never observe a half-written value.
type RuntimeTunable struct {
	mu                sync.RWMutex
	intensityCutoff   float64
	alarmMinIntensity string
}

func (t *RuntimeTunable) init(cutoff float64, alarmMin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intensityCutoff = cutoff
	t.alarmMinIntensity = alarmMin
}

// IntensityCutoff returns the currently active exceedance-probability cutoff.
func (t *RuntimeTunable) IntensityCutoff() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.intensityCutoff
}

// AlarmMinIntensity returns the currently active alarm threshold label.
func (t *RuntimeTunable) AlarmMinIntensity() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alarmMinIntensity
}

// SetIntensityCutoff hot-adjusts the exceedance-probability cutoff.
func (t *RuntimeTunable) SetIntensityCutoff(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intensityCutoff = v
}

// SetAlarmMinIntensity hot-adjusts the alarm threshold label.
func (t *RuntimeTunable) SetAlarmMinIntensity(v string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alarmMinIntensity = v
}

// Default returns a Config populated with every default named in spec.md.
func Default() *Config {
	return &Config{
		InstanceID:            "ttsam-0",
		WindowSeconds:         30,
		NStationsMax:          25,
		TickIntervalSeconds:   1.0,
		InitialDelaySeconds:   3.0,
		IntensityCutoff:       0.5,
		AlarmMinIntensity:     "4",
		TriggerMinStations:    3,
		TriggerWindowSeconds:  15,
		TriggerSpatialKM:      120,
		EventLingerSeconds:    20,
		EventDrainSeconds:     30,
		PredictTimeoutSeconds: 2.5,
		EpsilonPickSeconds:    0.5,
		BandpassLowHz:         0.075,
		BandpassHighHz:        10,
		BandpassOrder:         4,
		SampleRateHz:          100.0,
		Logs: LogsConfig{
			ReportDir: "logs/report",
			PickDir:   "logs/pick",
		},
		Health: HealthConfig{
			ListenAddr: ":9090",
		},
		MQTT: MQTTConfig{
			ReportTopic: "ttsam/reports",
			QoS:         1,
			ConnectSecs: 5,
			PublishSecs: 2,
		},
		Discord: DiscordConfig{
			TimeoutSeconds:  5,
			WindowSeconds:   1.0,
			ResetBelowPicks: 5,
		},
	}
}

// Load reads and parses a YAML configuration file, applies environment
// overrides, validates the result, and fills defaults for anything unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Tunables.init(cfg.IntensityCutoff, cfg.AlarmMinIntensity)

	return cfg, nil
}

// applyEnvOverrides applies the minimal TTSAM_* environment variables from
// spec.md section 6, taking precedence over YAML values when set.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("TTSAM_WINDOW_SECONDS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.WindowSeconds = f
		}
	}
	if v, ok := os.LookupEnv("TTSAM_N_STATIONS_MAX"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NStationsMax = n
		}
	}
	if v, ok := os.LookupEnv("TTSAM_TICK_INTERVAL"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TickIntervalSeconds = f
		}
	}
	if v, ok := os.LookupEnv("TTSAM_ALARM_MIN_INTENSITY"); ok && v != "" {
		cfg.AlarmMinIntensity = v
	}
	if v, ok := os.LookupEnv("TTSAM_INTENSITY_CUTOFF"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.IntensityCutoff = f
		}
	}
}
