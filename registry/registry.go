// Package registry holds the set of genset controllers the bridge knows about.
package registry

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDeviceNotFound = errors.New("registry: device not found")

// Device is one controller reachable through the transport.
type Device struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	UnitID byte   `yaml:"unitId"`
}

// Registry is an immutable device index. It is safe for concurrent use.
type Registry struct {
	devices map[string]Device
	ids     []string
}

// New indexes devices by ID. Duplicate or empty IDs and unit id 0
// (broadcast) are rejected.
func New(devices []Device) (*Registry, error) {
	r := &Registry{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("registry: device with empty id")
		}
		if d.UnitID == 0 || d.UnitID > 247 {
			return nil, fmt.Errorf("registry: device %q has invalid unit id %d", d.ID, d.UnitID)
		}
		if _, dup := r.devices[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate device %q", d.ID)
		}
		r.devices[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Lookup returns the device with the given id.
func (r *Registry) Lookup(id string) (Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
	}
	return d, nil
}

// IDs returns all device ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

func (r *Registry) Len() int { return len(r.ids) }
