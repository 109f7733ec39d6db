package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"Genset-DataBridge/ingest"
)

// FileSink appends every update as one JSON line.
type FileSink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileSink writes to w, typically a rotating lumberjack logger.
func NewFileSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w}
}

func (f *FileSink) Deliver(_ context.Context, u ingest.Update) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write update: %w", err)
	}
	return nil
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Close()
}
