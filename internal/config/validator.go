package config

import "fmt"

var validIntensityLabels = map[string]bool{
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5-": true, "5+": true, "6-": true, "6+": true, "7": true,
}

// Validate checks structural validity of cfg and fills a handful of derived
// defaults, mirroring the teacher's config.Validate pass.
func Validate(cfg *Config) error {
	if cfg.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be > 0")
	}
	if cfg.NStationsMax <= 0 {
		return fmt.Errorf("n_stations_max must be > 0")
	}
	if cfg.TickIntervalSeconds <= 0 {
		return fmt.Errorf("tick_interval must be > 0")
	}
	if cfg.TriggerMinStations <= 0 {
		return fmt.Errorf("trigger_min_stations must be > 0")
	}
	if cfg.IntensityCutoff <= 0 || cfg.IntensityCutoff > 1 {
		return fmt.Errorf("intensity_cutoff must be in (0, 1]")
	}
	if !validIntensityLabels[cfg.AlarmMinIntensity] {
		return fmt.Errorf("alarm_min_intensity %q is not a recognized intensity label", cfg.AlarmMinIntensity)
	}
	if cfg.SampleRateHz != 100.0 {
		return fmt.Errorf("sample_rate_hz %v: only 100.0 is supported", cfg.SampleRateHz)
	}
	if cfg.BandpassLowHz <= 0 || cfg.BandpassHighHz <= cfg.BandpassLowHz {
		return fmt.Errorf("bandpass corners invalid: low=%v high=%v", cfg.BandpassLowHz, cfg.BandpassHighHz)
	}
	if cfg.BandpassOrder <= 0 {
		return fmt.Errorf("bandpass_order must be > 0")
	}

	if cfg.Logs.ReportDir == "" {
		cfg.Logs.ReportDir = "logs/report"
	}
	if cfg.Logs.PickDir == "" {
		cfg.Logs.PickDir = "logs/pick"
	}
	if cfg.Health.ListenAddr == "" {
		cfg.Health.ListenAddr = ":9090"
	}
	if cfg.MQTT.ReportTopic == "" {
		cfg.MQTT.ReportTopic = "ttsam/reports"
	}

	if cfg.Discord.WebhookURL != "" {
		if cfg.Discord.TimeoutSeconds <= 0 {
			cfg.Discord.TimeoutSeconds = 5
		}
		if cfg.Discord.WindowSeconds <= 0 {
			cfg.Discord.WindowSeconds = 1.0
		}
		if cfg.Discord.ResetBelowPicks <= 0 {
			cfg.Discord.ResetBelowPicks = 5
		}
	}

	return nil
}
