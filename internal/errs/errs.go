// Package errs enumerates the abstract error kinds from the system's error
// handling design: every one of these is local to the component that raises
// it and never propagates past it, except the two fatal startup kinds.
package errs

import "errors"

var (
	// ErrUnsupportedRate is returned by the wave buffer when a packet's
	// sample rate does not match the supported path.
	ErrUnsupportedRate = errors.New("ttsam: unsupported sample rate")
	// ErrBadPacket is returned when a waveform packet fails basic shape
	// validation (samples length does not match start/end/rate).
	ErrBadPacket = errors.New("ttsam: malformed waveform packet")
	// ErrInsufficientData is returned by the tensor assembler when zero
	// stations produced a valid read window for a tick.
	ErrInsufficientData = errors.New("ttsam: no valid station window for tick")
	// ErrPredictFailed wraps a non-timeout error returned by the Predictor.
	ErrPredictFailed = errors.New("ttsam: predictor call failed")
	// ErrPredictTimeout is raised when a Predictor call exceeds the
	// configured soft timeout.
	ErrPredictTimeout = errors.New("ttsam: predictor call timed out")
	// ErrCatalogMissing is raised when a lookup against a static catalog
	// finds no entry for a given key. Non-fatal at lookup time; the station
	// is simply treated as absent.
	ErrCatalogMissing = errors.New("ttsam: catalog entry missing")
	// ErrCatalogLoad is fatal: raised once at startup when the static
	// catalogs themselves cannot be loaded.
	ErrCatalogLoad = errors.New("ttsam: failed to load static catalogs")
	// ErrPredictorInit is fatal: raised once at startup when the Predictor
	// cannot be initialized.
	ErrPredictorInit = errors.New("ttsam: failed to initialize predictor")
	// ErrTransport wraps an upstream transport read failure; the ingestor
	// retries with backoff rather than propagating this further.
	ErrTransport = errors.New("ttsam: upstream transport error")
)

// ExitCode maps a fatal startup error to the process exit code defined in
// the external interfaces contract. Returns 0 for a nil error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCatalogLoad):
		return 1
	case errors.Is(err, ErrPredictorInit):
		return 2
	case errors.Is(err, ErrTransport):
		return 3
	default:
		return 1
	}
}
