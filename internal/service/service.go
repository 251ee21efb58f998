// Package service wires every pipeline component into the running process:
// the wave buffer, pick aggregator, tensor assembler, inference dispatcher,
// the ingest and outward-bus legs, and the health surface. Structured after
// the teacher's core.Orion orchestrator.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/bus"
	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/config"
	"github.com/e7canasta/ttsam-go/internal/dispatcher"
	"github.com/e7canasta/ttsam-go/internal/health"
	"github.com/e7canasta/ttsam-go/internal/ingest"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/pickaggregator"
	"github.com/e7canasta/ttsam-go/internal/tensor"
	"github.com/e7canasta/ttsam-go/internal/transport"
	"github.com/e7canasta/ttsam-go/internal/types"
	"github.com/e7canasta/ttsam-go/internal/wavebuffer"
)

// Service is the top-level orchestrator, mirroring the teacher's Orion.
type Service struct {
	cfg       *config.Config
	cat       catalog.Catalog
	predictor types.Predictor
	clock     clockwork.Clock
	metrics   *metrics.Metrics
	log       *slog.Logger

	buf        *wavebuffer.Buffer
	aggregator *pickaggregator.Aggregator
	assembler  *tensor.Assembler
	dispatch   *dispatcher.Dispatcher
	outward    *bus.Multi
	mqtt       *bus.MQTTBus
	discord    *bus.DiscordBus
	view       *bus.Broadcaster
	healthSrv  *health.Server
	httpSrv    *http.Server

	waveIngestor *ingest.WaveIngestor
	pickIngestor *ingest.PickIngestor

	mu             sync.RWMutex
	lastWaveformAt time.Time
	lastPickAt     time.Time
	lastPredictAt  time.Time

	wg        sync.WaitGroup
	isRunning bool
}

// WaveformSource and PickSource are the two upstream transport legs the
// caller wires in before Run; they are interfaces so main.go can choose the
// text, JSON, or Kafka transports without Service depending on all of them.
type WaveformSource = ingest.WaveformSource
type PickSource = transport.PickSource

// New builds a Service from its already-loaded collaborators. stationIDs
// must list every station the wave buffer should pre-register rings for.
func New(cfg *config.Config, cat catalog.Catalog, predictor types.Predictor, stationIDs []string,
	waveSource WaveformSource, pickSource PickSource, log *slog.Logger) *Service {

	if log == nil {
		log = slog.Default()
	}

	m := metrics.New()
	clock := clockwork.NewRealClock()

	buf := wavebuffer.New(wavebuffer.Config{
		WindowSeconds:  cfg.WindowSeconds,
		SampleRateHz:   cfg.SampleRateHz,
		BandpassLowHz:  cfg.BandpassLowHz,
		BandpassHighHz: cfg.BandpassHighHz,
		BandpassOrder:  cfg.BandpassOrder,
	}, stationIDs, m)

	picksIn := make(chan types.Pick, 64)

	aggregator := pickaggregator.New(pickaggregator.Config{
		TriggerMinStations:   cfg.TriggerMinStations,
		TriggerWindowSeconds: cfg.TriggerWindowSeconds,
		TriggerSpatialKM:     cfg.TriggerSpatialKM,
		EventLingerSeconds:   cfg.EventLingerSeconds,
		EventDrainSeconds:    cfg.EventDrainSeconds,
		TickIntervalSeconds:  cfg.TickIntervalSeconds,
		InitialDelaySeconds:  cfg.InitialDelaySeconds,
		EpsilonPickSeconds:   cfg.EpsilonPickSeconds,
	}, cat, clock, m, log, picksIn)

	assembler := tensor.New(tensor.Config{NStationsMax: cfg.NStationsMax}, buf, cat)

	view := bus.NewBroadcaster(log)
	legs := []bus.OutwardBus{view}

	var mqttBus *bus.MQTTBus
	if cfg.MQTT.Broker != "" {
		mqttBus = bus.NewMQTTBus(bus.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			ReportTopic: cfg.MQTT.ReportTopic,
			QoS:         cfg.MQTT.QoS,
			ConnectSecs: cfg.MQTT.ConnectSecs,
			PublishSecs: cfg.MQTT.PublishSecs,
		}, log)
		legs = append(legs, mqttBus)
	}

	var discordBus *bus.DiscordBus
	if cfg.Discord.WebhookURL != "" {
		discordBus = bus.NewDiscordBus(bus.DiscordConfig{
			WebhookURL:      cfg.Discord.WebhookURL,
			TimeoutSeconds:  cfg.Discord.TimeoutSeconds,
			WindowSeconds:   cfg.Discord.WindowSeconds,
			ResetBelowPicks: cfg.Discord.ResetBelowPicks,
		}, cat, clock, log)
		legs = append(legs, discordBus)
	}
	outward := bus.NewMulti(legs...)

	dispatch := dispatcher.New(dispatcher.Config{
		PredictTimeoutSeconds: cfg.PredictTimeoutSeconds,
		ReportDir:             cfg.Logs.ReportDir,
	}, assembler, predictor, cat, &cfg.Tunables, clock, m, outward, view, log)

	s := &Service{
		cfg:        cfg,
		cat:        cat,
		predictor:  predictor,
		clock:      clock,
		metrics:    m,
		log:        log,
		buf:        buf,
		aggregator: aggregator,
		assembler:  assembler,
		dispatch:   dispatch,
		outward:    outward,
		mqtt:       mqttBus,
		discord:    discordBus,
		view:       view,
	}

	dispatch.OnDispatch(func() {
		s.mu.Lock()
		s.lastPredictAt = s.clock.Now()
		s.mu.Unlock()
	})

	s.healthSrv = health.New(s, 2*time.Duration(cfg.WindowSeconds)*time.Second)
	s.waveIngestor = ingest.NewWaveIngestor(observedWaveformSource{s, waveSource}, buf, log)
	s.pickIngestor = ingest.NewPickIngestor(observedPickSource{s, pickSource}, picksIn, log)

	return s
}

// observedWaveformSource wraps a WaveformSource to stamp lastWaveformAt on
// every successful read, for the readiness endpoint.
type observedWaveformSource struct {
	s     *Service
	inner WaveformSource
}

func (o observedWaveformSource) Next(ctx context.Context) (types.WaveformPacket, error) {
	p, err := o.inner.Next(ctx)
	if err == nil {
		o.s.mu.Lock()
		o.s.lastWaveformAt = o.s.clock.Now()
		o.s.mu.Unlock()
	}
	return p, err
}

func (o observedWaveformSource) Close() error { return o.inner.Close() }

// observedPickSource wraps a PickSource to stamp lastPickAt on every
// successful read.
type observedPickSource struct {
	s     *Service
	inner PickSource
}

func (o observedPickSource) Next(ctx context.Context) (types.Pick, error) {
	p, err := o.inner.Next(ctx)
	if err == nil {
		o.s.mu.Lock()
		o.s.lastPickAt = o.s.clock.Now()
		o.s.mu.Unlock()
	}
	return p, err
}

func (o observedPickSource) Close() error { return o.inner.Close() }

// LastWaveformAt implements health.Checker.
func (s *Service) LastWaveformAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastWaveformAt
}

// LastPickAt implements health.Checker.
func (s *Service) LastPickAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPickAt
}

// LastPredictAt implements health.Checker.
func (s *Service) LastPredictAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPredictAt
}

// Run starts every pipeline goroutine and the health HTTP server, and
// blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.mqtt != nil {
		if err := s.mqtt.Connect(); err != nil {
			s.log.Error("mqtt connect failed, continuing without outward mqtt leg", "error", err)
		}
	}

	s.log.Info("ttsam service starting", "instance_id", s.cfg.InstanceID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.waveIngestor.Run(ctx); err != nil {
			s.log.Error("wave ingestor exited", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.pickIngestor.Run(ctx); err != nil {
			s.log.Error("pick ingestor exited", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.aggregator.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch.Run(ctx, s.aggregator.Ticks())
	}()

	if s.cfg.Health.ListenAddr != "" {
		s.httpSrv = &http.Server{Addr: s.cfg.Health.ListenAddr, Handler: s.healthSrv.Handler()}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("health server exited", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}

// Shutdown tears the service down in dependency order: ingestors first (no
// more input), then the aggregator/dispatcher drain naturally as their
// contexts are already cancelled by the caller, then the health server,
// then the outward MQTT leg last so any final report has a chance to land.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.log.Info("shutting down ttsam service")

	if err := s.waveIngestor.Close(); err != nil {
		s.log.Error("failed to close wave source", "error", err)
	}
	if err := s.pickIngestor.Close(); err != nil {
		s.log.Error("failed to close pick source", "error", err)
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Error("failed to shut down health server", "error", err)
		}
	}

	s.log.Info("waiting for goroutines to finish")
	s.wg.Wait()
	s.log.Info("all goroutines finished")

	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	s.log.Info("ttsam service shutdown complete")
	return nil
}
