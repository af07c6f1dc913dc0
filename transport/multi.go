package transport

import (
	"context"
	"errors"

	"taskboard/domain"
)

// Multi publishes to every publisher in turn and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, d domain.ChangeDescriptor) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every descriptor.
type Discard struct{}

func (Discard) Publish(context.Context, domain.ChangeDescriptor) error { return nil }
