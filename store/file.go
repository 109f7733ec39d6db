package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend keeps suspensions in a JSON file, rewritten on every change.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) LoadAll(ctx context.Context) ([]Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *FileBackend) Put(ctx context.Context, s Suspension) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	found := false
	for i, v := range values {
		if v.DeviceID == s.DeviceID {
			values[i] = s
			found = true
			break
		}
	}
	if !found {
		values = append(values, s)
	}
	return f.write(values)
}

func (f *FileBackend) Delete(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	kept := values[:0]
	for _, v := range values {
		if v.DeviceID != deviceID {
			kept = append(kept, v)
		}
	}
	return f.write(kept)
}

func (f *FileBackend) read() ([]Suspension, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading suspension file: %w", err)
	}
	var values []Suspension
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("error unmarshaling suspensions: %w", err)
	}
	return values, nil
}

// write replaces the file atomically through a temp file and rename.
func (f *FileBackend) write(values []Suspension) error {
	if values == nil {
		values = []Suspension{}
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling suspensions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing suspension file: %w", err)
	}
	return os.Rename(tmp, f.path)
}
