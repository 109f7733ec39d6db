package plugins

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"Genset-DataBridge/config"
	"Genset-DataBridge/ingest"
)

// DebugUIPlugin periodically logs the unified state of selected devices.
type DebugUIPlugin struct {
	config config.DebugUIConfig
	state  *ingest.State
	logger *zap.Logger
}

func NewDebugUIPlugin(cfg config.DebugUIConfig, state *ingest.State, logger *zap.Logger) *DebugUIPlugin {
	return &DebugUIPlugin{config: cfg, state: state, logger: logger.Named("debugui")}
}

func (d *DebugUIPlugin) Name() string {
	return "Debug UI Plugin"
}

func (d *DebugUIPlugin) Start(ctx context.Context, _ chan<- ingest.Envelope) error {
	if !d.config.Enabled {
		d.logger.Info("plugin disabled; not starting")
		return nil
	}
	if d.config.PollSeconds < 1 {
		d.config.PollSeconds = 5
	}

	go func() {
		ticker := time.NewTicker(time.Duration(d.config.PollSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.displayState()
			}
		}
	}()
	return nil
}

// displayState logs one line per field of each configured device, or of
// every device with state when none are configured.
func (d *DebugUIPlugin) displayState() {
	devices := d.config.Devices
	if len(devices) == 0 {
		devices = d.state.Devices()
	}
	for _, id := range devices {
		snap, ok := d.state.Snapshot(id)
		if !ok {
			d.logger.Info("no state yet", zap.String("device_id", id))
			continue
		}
		names := make([]string, 0, len(snap.Fields))
		for k := range snap.Fields {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			d.logger.Info("field",
				zap.String("device_id", id),
				zap.Time("updated_at", snap.Timestamp),
				zap.String("name", k),
				zap.Any("value", snap.Fields[k]))
		}
	}
}
