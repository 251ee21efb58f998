package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/catalogload"
	"github.com/e7canasta/ttsam-go/internal/config"
	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/predictor"
	"github.com/e7canasta/ttsam-go/internal/service"
	"github.com/e7canasta/ttsam-go/internal/transport"
)

const (
	defaultConfigPath      = "config/ttsamd.yaml"
	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	wavePath := flag.String("wave-file", "", "path to a newline-delimited JSON waveform file (empty: read stdin)")
	pickPath := flag.String("pick-file", "", "path to a whitespace-delimited pick file (empty: read stdin)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting ttsam service", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(errs.ExitCode(errs.ErrCatalogLoad))
	}

	cat, err := catalogload.Load(cfg.Catalog.StationMetaPath, cfg.Catalog.TargetListPath, cfg.Catalog.Vs30GridPath)
	if err != nil {
		logger.Error("failed to load static catalogs", "error", err)
		os.Exit(errs.ExitCode(errs.ErrCatalogLoad))
	}
	stationIDs := cat.KnownStationIDs()
	logger.Info("catalog loaded", "stations", len(stationIDs), "targets", len(cat.TargetList()))

	pred := predictor.NewStub(200*time.Millisecond, clockwork.NewRealClock())

	waveFile, err := openOrStdin(*wavePath)
	if err != nil {
		logger.Error("failed to open waveform source", "error", err)
		os.Exit(errs.ExitCode(errs.ErrTransport))
	}
	waveSource := transport.NewJSONWaveformSource(waveFile)

	var pickSource pickSourceAdapter
	if cfg.Kafka.Enabled {
		pickSource = transport.NewKafkaPickSource(transport.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
	} else {
		pickFile, err := openOrStdin(*pickPath)
		if err != nil {
			logger.Error("failed to open pick source", "error", err)
			os.Exit(errs.ExitCode(errs.ErrTransport))
		}
		pickSource = transport.NewTextPickSource(pickFile)
	}

	svc := service.New(cfg, cat, pred, stationIDs, waveSource, pickSource, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case runErr := <-errChan:
		if runErr != nil {
			logger.Error("service run exited with error", "error", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ttsam service stopped successfully")
}

// pickSourceAdapter is the common interface satisfied by every concrete
// transport.PickSource implementation main.go may choose between.
type pickSourceAdapter = transport.PickSource

func openOrStdin(path string) (*os.File, error) {
	if path == "" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
