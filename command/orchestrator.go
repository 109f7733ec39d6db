// Package command turns operator actions into control frames, publishes them
// to the devices and keeps a commanded device out of the bridge's own polling
// until polling is explicitly resumed.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Genset-DataBridge/metrics"
	"Genset-DataBridge/modbus"
	"Genset-DataBridge/registry"
)

var (
	ErrDeviceNotFound        = registry.ErrDeviceNotFound
	ErrTransportDisconnected = errors.New("command: transport disconnected")
	ErrInternal              = errors.New("command: internal error")
)

// Publisher sends a JSON payload to the command channel of a device.
type Publisher interface {
	IsConnected() bool
	Publish(ctx context.Context, deviceID string, payload []byte) error
}

// Devices resolves device identifiers.
type Devices interface {
	Lookup(id string) (registry.Device, error)
}

// SuspensionStore is the durable set of devices the bridge must not poll.
type SuspensionStore interface {
	Suspend(ctx context.Context, deviceID string, at time.Time) error
	Resume(ctx context.Context, deviceID string) error
	IsSuspended(deviceID string) bool
	Len() int
}

// Timer is the part of *time.Timer the orchestrator needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Config struct {
	// RestoreDelay is how long after start/stop the polling list is sent back.
	RestoreDelay time.Duration
	// RestorePeriodicity is the repeat interval, in seconds, of the restored list.
	RestorePeriodicity int
	Plan               PollPlan
	PublishTimeout     time.Duration
}

type Option func(*Orchestrator)

func WithAfterFunc(f AfterFunc) Option { return func(o *Orchestrator) { o.afterFunc = f } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func WithMetrics(m *metrics.BridgeMetrics) Option { return func(o *Orchestrator) { o.metrics = m } }

type deviceEntry struct {
	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// Orchestrator issues commands and owns the restore timers. All work for one
// device is serialized by a per-device lock.
type Orchestrator struct {
	devices     Devices
	pub         Publisher
	suspensions SuspensionStore
	cfg         Config
	afterFunc   AfterFunc
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.BridgeMetrics

	mu      sync.Mutex
	entries map[string]*deviceEntry
}

func New(devices Devices, pub Publisher, suspensions SuspensionStore, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.Plan == nil {
		cfg.Plan = DefaultPollPlan
	}
	if cfg.RestoreDelay <= 0 {
		cfg.RestoreDelay = 30 * time.Second
	}
	if cfg.RestorePeriodicity <= 0 {
		cfg.RestorePeriodicity = 30
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	o := &Orchestrator{
		devices:     devices,
		pub:         pub,
		suspensions: suspensions,
		cfg:         cfg,
		afterFunc:   realAfterFunc,
		now:         time.Now,
		logger:      logger.Named("command"),
		entries:     make(map[string]*deviceEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.metrics.SetSuspended(suspensions.Len())
	return o
}

func (o *Orchestrator) entry(deviceID string) *deviceEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[deviceID]
	if !ok {
		e = &deviceEntry{}
		o.entries[deviceID] = e
	}
	return e
}

// Result is the outcome reported to API callers.
type Result struct {
	Success   bool   `json:"success"`
	CommandID string `json:"commandId,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

// IssueCommand is Issue with the failure folded into a Result. It never
// panics.
func (o *Orchestrator) IssueCommand(ctx context.Context, deviceID, action string) (res Result) {
	id := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("command panicked",
				zap.String("command_id", id), zap.String("device_id", deviceID), zap.Any("panic", r))
			o.metrics.ObserveCommand(action, "internal")
			res = Result{Error: fmt.Sprintf("%v: %v", ErrInternal, r), Err: ErrInternal}
		}
	}()

	if err := o.Issue(ctx, deviceID, Action(action)); err != nil {
		return Result{Error: err.Error(), Err: err}
	}
	o.logger.Info("command accepted",
		zap.String("command_id", id), zap.String("device_id", deviceID), zap.String("action", action))
	return Result{Success: true, CommandID: id}
}

// Issue sends action to deviceID and suspends bridge polling of the device.
// The suspension is recorded only once the command was handed to the
// transport. Start and stop also (re)arm the restore timer; a pending timer
// for the device is cancelled first so at most one is ever armed.
func (o *Orchestrator) Issue(ctx context.Context, deviceID string, action Action) error {
	dev, err := o.devices.Lookup(deviceID)
	if err != nil {
		o.metrics.ObserveCommand(string(action), "device_not_found")
		return err
	}
	frame, err := Frame(dev.UnitID, action)
	if err != nil {
		o.metrics.ObserveCommand(string(action), "unknown_action")
		return err
	}
	payload, err := json.Marshal(CommandEnvelope{Command: modbus.Hex(frame)})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !o.pub.IsConnected() {
		o.metrics.ObserveCommand(string(action), "disconnected")
		return ErrTransportDisconnected
	}
	pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()
	if err := o.pub.Publish(pubCtx, deviceID, payload); err != nil {
		o.metrics.ObserveCommand(string(action), publishResult(err))
		return fmt.Errorf("publish %s to %s: %w", action, deviceID, err)
	}

	if err := o.suspensions.Suspend(ctx, deviceID, o.now()); err != nil {
		o.logger.Error("suspension not persisted", zap.String("device_id", deviceID), zap.Error(err))
	}
	o.metrics.SetSuspended(o.suspensions.Len())

	if action.restoresPolling() {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen++
		gen := e.gen
		e.timer = o.afterFunc(o.cfg.RestoreDelay, func() { o.restore(deviceID, gen) })
	}

	o.metrics.ObserveCommand(string(action), "ok")
	o.logger.Debug("command published",
		zap.String("device_id", deviceID),
		zap.String("action", string(action)),
		zap.String("frame", modbus.Hex(frame)))
	return nil
}

// restore sends the periodic polling list back to the device. The device
// keeps reporting on its own from then on, so it stays suspended.
func (o *Orchestrator) restore(deviceID string, gen uint64) {
	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.timer = nil

	if !o.pub.IsConnected() {
		o.metrics.ObserveRestorePoll("disconnected")
		o.logger.Warn("restore skipped, transport disconnected", zap.String("device_id", deviceID))
		return
	}
	dev, err := o.devices.Lookup(deviceID)
	if err != nil {
		o.metrics.ObserveRestorePoll("device_not_found")
		o.logger.Warn("restore skipped", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	payload, err := json.Marshal(PollEnvelope{
		Requests:    o.cfg.Plan.Frames(dev.UnitID),
		Periodicity: o.cfg.RestorePeriodicity,
	})
	if err != nil {
		o.logger.Error("encode polling list", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PublishTimeout)
	defer cancel()
	if err := o.pub.Publish(ctx, deviceID, payload); err != nil {
		o.metrics.ObserveRestorePoll(publishResult(err))
		o.logger.Warn("restore publish failed", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	o.metrics.ObserveRestorePoll("ok")
	o.logger.Info("polling list restored",
		zap.String("device_id", deviceID), zap.Int("periodicity", o.cfg.RestorePeriodicity))
}

// Resume hands polling of deviceID back to the bridge and cancels any
// pending restore.
func (o *Orchestrator) Resume(ctx context.Context, deviceID string) error {
	if _, err := o.devices.Lookup(deviceID); err != nil {
		return err
	}
	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.gen++
	}
	if err := o.suspensions.Resume(ctx, deviceID); err != nil {
		return err
	}
	o.metrics.SetSuspended(o.suspensions.Len())
	o.logger.Info("polling resumed", zap.String("device_id", deviceID))
	return nil
}

// Suspended reports whether the bridge must leave deviceID alone.
func (o *Orchestrator) Suspended(deviceID string) bool {
	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return o.suspensions.IsSuspended(deviceID)
}

// RestorePending reports whether a restore timer is armed for deviceID.
func (o *Orchestrator) RestorePending(deviceID string) bool {
	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

// Poll sends a one-shot polling list to deviceID unless it is suspended.
// It reports whether a poll was published. The check and the publish happen
// under the device lock, so a command issued concurrently is never
// interleaved with a bridge poll.
func (o *Orchestrator) Poll(ctx context.Context, deviceID string) (bool, error) {
	dev, err := o.devices.Lookup(deviceID)
	if err != nil {
		return false, err
	}
	e := o.entry(deviceID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.suspensions.IsSuspended(deviceID) {
		o.metrics.ObserveBridgePoll("suspended")
		return false, nil
	}
	if !o.pub.IsConnected() {
		o.metrics.ObserveBridgePoll("disconnected")
		return false, ErrTransportDisconnected
	}
	payload, err := json.Marshal(PollEnvelope{Requests: o.cfg.Plan.Frames(dev.UnitID)})
	if err != nil {
		return false, fmt.Errorf("encode polling list: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()
	if err := o.pub.Publish(pubCtx, deviceID, payload); err != nil {
		o.metrics.ObserveBridgePoll(publishResult(err))
		return false, fmt.Errorf("poll %s: %w", deviceID, err)
	}
	o.metrics.ObserveBridgePoll("ok")
	return true, nil
}

// publishResult is the metric label for a failed publish.
func publishResult(err error) string {
	if errors.Is(err, ErrTransportDisconnected) {
		return "disconnected"
	}
	return "publish_failed"
}
