package ingest

import (
	"sort"
	"sync"
	"time"
)

// State is the unified per-device view: the latest value of every field ever
// decoded for a device. Each device has its own lock.
type State struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
}

type deviceState struct {
	mu        sync.Mutex
	fields    map[string]any
	updatedAt time.Time
}

func NewState() *State {
	return &State{devices: make(map[string]*deviceState)}
}

func (s *State) device(id string) *deviceState {
	s.mu.RLock()
	d, ok := s.devices[id]
	s.mu.RUnlock()
	if ok {
		return d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok = s.devices[id]; !ok {
		d = &deviceState{fields: make(map[string]any)}
		s.devices[id] = d
	}
	return d
}

// Merge overwrites the given fields of deviceID and returns the merged view.
func (s *State) Merge(deviceID string, fields map[string]any, at time.Time) Update {
	d := s.device(deviceID)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range fields {
		d.fields[k] = v
	}
	d.updatedAt = at
	return Update{DeviceID: deviceID, Timestamp: at, Fields: copyFields(d.fields)}
}

// Snapshot returns a copy of the current view of deviceID.
func (s *State) Snapshot(deviceID string) (Update, bool) {
	s.mu.RLock()
	d, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok {
		return Update{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return Update{DeviceID: deviceID, Timestamp: d.updatedAt, Fields: copyFields(d.fields)}, true
}

// Devices lists the devices with state, sorted.
func (s *State) Devices() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
