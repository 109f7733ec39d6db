// Package sink delivers unified device updates to the systems that consume
// them: the state database, browsers and an audit file.
package sink

import (
	"context"
	"errors"

	"Genset-DataBridge/ingest"
)

// Multi delivers to every sink and joins their errors.
type Multi []ingest.Sink

func (m Multi) Deliver(ctx context.Context, u ingest.Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
