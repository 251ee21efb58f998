package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/config"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// eofWaveformSource immediately reports the upstream transport as exhausted,
// enough to exercise the wave ingestor's retry/shutdown path without a real
// transport.
type eofWaveformSource struct{ closed bool }

func (s *eofWaveformSource) Next(ctx context.Context) (types.WaveformPacket, error) {
	<-ctx.Done()
	return types.WaveformPacket{}, io.EOF
}
func (s *eofWaveformSource) Close() error { s.closed = true; return nil }

type eofPickSource struct{ closed bool }

func (s *eofPickSource) Next(ctx context.Context) (types.Pick, error) {
	<-ctx.Done()
	return types.Pick{}, io.EOF
}
func (s *eofPickSource) Close() error { s.closed = true; return nil }

func TestService_RunStopsOnContextCancelAndShutdownCompletes(t *testing.T) {
	cfg := config.Default()
	cfg.Logs.ReportDir = t.TempDir()
	cfg.Health.ListenAddr = ""
	cfg.MQTT.Broker = ""

	cat := catalog.New([]types.StationMeta{{StationID: "S1"}}, nil, nil)
	pred := &fakeLifecyclePredictor{}
	waveSrc := &eofWaveformSource{}
	pickSrc := &eofPickSource{}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(cfg, cat, pred, []string{"S1"}, waveSrc, pickSrc, log)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected Run to return nil after context cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("unexpected error from Shutdown: %v", err)
	}

	if !waveSrc.closed {
		t.Error("expected the waveform source to be closed on shutdown")
	}
	if !pickSrc.closed {
		t.Error("expected the pick source to be closed on shutdown")
	}
}

func TestService_RunTwiceReportsAlreadyRunning(t *testing.T) {
	cfg := config.Default()
	cfg.Logs.ReportDir = t.TempDir()
	cfg.Health.ListenAddr = ""
	cfg.MQTT.Broker = ""

	cat := catalog.New([]types.StationMeta{{StationID: "S1"}}, nil, nil)
	svc := New(cfg, cat, &fakeLifecyclePredictor{}, []string{"S1"}, &eofWaveformSource{}, &eofPickSource{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := svc.Run(ctx); err == nil {
		t.Fatal("expected a second concurrent Run call to report already running")
	}
}

type fakeLifecyclePredictor struct{}

func (fakeLifecyclePredictor) Predict(ctx context.Context, input types.InferenceInput) (types.InferenceOutput, error) {
	return types.InferenceOutput{}, nil
}
