package audit

import (
	"context"
	"errors"
)

// Publisher forwards committed entries to downstream consumers.
//
// Publishing happens after the transaction commits and is a notification
// only; the audit_log row is the record of truth.
type Publisher interface {
	Publish(ctx context.Context, entries ...Entry) error
	Close() error
}

// NopPublisher discards entries
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Entry) error { return nil }
func (NopPublisher) Close() error                             { return nil }

// MultiPublisher fans entries out to several publishers
type MultiPublisher struct {
	publishers []Publisher
}

// NewMultiPublisher creates a publisher that writes to every destination
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Publish sends entries to every publisher, continuing past failures
func (m *MultiPublisher) Publish(ctx context.Context, entries ...Entry) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, entries...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
