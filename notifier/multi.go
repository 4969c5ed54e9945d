package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Multi delivers every notification to each of its notifiers.
type Multi struct {
	notifiers []Notifier
}

// NewMulti fans out to notifiers in order.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Notify calls every notifier even when an earlier one fails and joins the errors.
func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for i, target := range m.notifiers {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, target := range m.notifiers {
		if c, ok := target.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
