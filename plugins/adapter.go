package plugins

import (
	"context"

	"Genset-DataBridge/ingest"
)

// Adapter is the interface that every plugin must implement. Input plugins
// send telemetry envelopes on envCh; the others ignore it.
type Adapter interface {
	// Name returns the name of the adapter.
	Name() string
	// Start begins processing and returns once the plugin is running. Work
	// stops when ctx is done.
	Start(ctx context.Context, envCh chan<- ingest.Envelope) error
}
