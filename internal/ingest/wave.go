// Package ingest implements Thread W (Wave Ingestor) and Thread P's pick
// half: blocking reads from the upstream transports with retry-with-backoff,
// handing decoded messages to the Wave Buffer and the Pick Aggregator's
// input channel.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/types"
	"github.com/e7canasta/ttsam-go/internal/wavebuffer"
)

// maxBackoff caps the retry delay after a transport read failure, per
// spec.md section 7's "retry with exponential backoff (capped at 5 s)".
const maxBackoff = 5 * time.Second

// WaveformSource is the blocking-iterator abstraction for the upstream
// waveform transport; encoding specifics belong to the concrete
// implementation, per spec.md section 1.
type WaveformSource interface {
	Next(ctx context.Context) (types.WaveformPacket, error)
	Close() error
}

// WaveIngestor is Thread W: it pulls packets from source and hands each to
// buf.Insert, retrying the source read with capped exponential backoff on
// transport failure.
type WaveIngestor struct {
	source WaveformSource
	buf    *wavebuffer.Buffer
	log    *slog.Logger
}

// NewWaveIngestor builds a WaveIngestor.
func NewWaveIngestor(source WaveformSource, buf *wavebuffer.Buffer, log *slog.Logger) *WaveIngestor {
	if log == nil {
		log = slog.Default()
	}
	return &WaveIngestor{source: source, buf: buf, log: log}
}

// Run blocks until ctx is cancelled or the source is permanently exhausted
// (io.EOF). Every other read failure is retried with backoff.
func (w *WaveIngestor) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		packet, err := w.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}

			w.log.Warn("waveform transport read failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond

		if err := w.buf.Insert(packet); err != nil && !errors.Is(err, errs.ErrUnsupportedRate) && !errors.Is(err, errs.ErrBadPacket) && !errors.Is(err, errs.ErrCatalogMissing) {
			w.log.Error("unexpected wave buffer insert error", "error", err)
		}
	}
}

// Close releases the underlying source.
func (w *WaveIngestor) Close() error {
	return w.source.Close()
}
