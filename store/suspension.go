// Package store keeps the durable set of devices whose bridge-side polling is
// suspended.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Suspension records when polling of a device was suspended.
type Suspension struct {
	DeviceID    string    `json:"deviceId"`
	SuspendedAt time.Time `json:"suspendedAt"`
}

// Backend persists suspensions. Implementations must survive process restarts.
type Backend interface {
	LoadAll(ctx context.Context) ([]Suspension, error)
	Put(ctx context.Context, s Suspension) error
	Delete(ctx context.Context, deviceID string) error
}

// Suspensions is the in-memory view of the durable set. Reads never touch the
// backend.
type Suspensions struct {
	backend Backend

	mu  sync.RWMutex
	set map[string]time.Time
}

// NewSuspensions wraps backend. Call Load before serving commands.
func NewSuspensions(backend Backend) *Suspensions {
	return &Suspensions{backend: backend, set: make(map[string]time.Time)}
}

// Load replaces the in-memory set with the backend contents.
func (s *Suspensions) Load(ctx context.Context) error {
	all, err := s.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load suspensions: %w", err)
	}
	set := make(map[string]time.Time, len(all))
	for _, v := range all {
		set[v.DeviceID] = v.SuspendedAt
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

// Suspend records deviceID as suspended at at. The in-memory set is updated
// even when persisting fails, so this process stops polling the device either
// way; the error tells the caller the suspension may not survive a restart.
func (s *Suspensions) Suspend(ctx context.Context, deviceID string, at time.Time) error {
	s.mu.Lock()
	s.set[deviceID] = at
	s.mu.Unlock()
	if err := s.backend.Put(ctx, Suspension{DeviceID: deviceID, SuspendedAt: at}); err != nil {
		return fmt.Errorf("persist suspension of %s: %w", deviceID, err)
	}
	return nil
}

// Resume clears the suspension of deviceID. Resuming an active device is a no-op.
func (s *Suspensions) Resume(ctx context.Context, deviceID string) error {
	if err := s.backend.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("clear suspension of %s: %w", deviceID, err)
	}
	s.mu.Lock()
	delete(s.set, deviceID)
	s.mu.Unlock()
	return nil
}

func (s *Suspensions) IsSuspended(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[deviceID]
	return ok
}

// List returns the suspensions ordered by device id.
func (s *Suspensions) List() []Suspension {
	s.mu.RLock()
	out := make([]Suspension, 0, len(s.set))
	for id, at := range s.set {
		out = append(out, Suspension{DeviceID: id, SuspendedAt: at})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (s *Suspensions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
