package plugins

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"Genset-DataBridge/command"
	"Genset-DataBridge/config"
	"Genset-DataBridge/ingest"
)

// PollTarget sends a one-shot polling list to a device unless its polling is
// suspended.
type PollTarget interface {
	Poll(ctx context.Context, deviceID string) (bool, error)
}

// Poller asks every active device for a fresh polling round on a fixed
// interval. Devices under operator control are skipped.
type Poller struct {
	config  config.PollerConfig
	devices func() []string
	target  PollTarget
	logger  *zap.Logger
}

func NewPoller(cfg config.PollerConfig, devices func() []string, target PollTarget, logger *zap.Logger) *Poller {
	return &Poller{config: cfg, devices: devices, target: target, logger: logger.Named("poller")}
}

func (p *Poller) Name() string {
	return "Bridge Poller"
}

func (p *Poller) Start(ctx context.Context, _ chan<- ingest.Envelope) error {
	if !p.config.Enabled {
		p.logger.Info("poller disabled; not starting")
		return nil
	}
	interval := p.config.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.pollOnce(ctx)
			}
		}
	}()
	return nil
}

// pollOnce runs one round over all devices and returns how many were polled.
func (p *Poller) pollOnce(ctx context.Context) int {
	polled, skipped := 0, 0
	for _, id := range p.devices() {
		sent, err := p.target.Poll(ctx, id)
		if errors.Is(err, command.ErrTransportDisconnected) {
			p.logger.Warn("transport disconnected; round aborted", zap.Int("polled", polled))
			return polled
		}
		if err != nil {
			p.logger.Warn("poll failed", zap.String("device_id", id), zap.Error(err))
			continue
		}
		if sent {
			polled++
		} else {
			skipped++
		}
	}
	p.logger.Debug("poll round", zap.Int("polled", polled), zap.Int("suspended", skipped))
	return polled
}
