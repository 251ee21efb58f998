package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/ttsam-go/internal/transport"
	"github.com/e7canasta/ttsam-go/internal/types"
)

// PickIngestor pulls picks from a transport.PickSource and forwards each to
// the Pick Aggregator's input channel, applying the same capped backoff
// retry policy as the waveform leg.
type PickIngestor struct {
	source transport.PickSource
	out    chan<- types.Pick
	log    *slog.Logger
}

// NewPickIngestor builds a PickIngestor delivering onto out.
func NewPickIngestor(source transport.PickSource, out chan<- types.Pick, log *slog.Logger) *PickIngestor {
	if log == nil {
		log = slog.Default()
	}
	return &PickIngestor{source: source, out: out, log: log}
}

// Run blocks until ctx is cancelled or the source is exhausted.
func (p *PickIngestor) Run(ctx context.Context) error {
	backoff := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pick, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}

			p.log.Warn("pick transport read failed, retrying", "error", err, "backoff", backoff)
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

		select {
		case p.out <- pick:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the underlying source.
func (p *PickIngestor) Close() error {
	return p.source.Close()
}
