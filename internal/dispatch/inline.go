package dispatch

import (
	"context"

	"family-gallery/internal/metrics"
)

// Inline processes each item before Dispatch returns.
type Inline struct {
	proc Processor
}

// NewInline wraps proc.
func NewInline(proc Processor) *Inline {
	return &Inline{proc: proc}
}

// Dispatch runs the processor synchronously. It never fails; processing
// errors are recorded on the item. Processing is detached from ctx so a
// client that disconnects mid-request does not leave the item half done.
func (d *Inline) Dispatch(ctx context.Context, mediaID string) error {
	d.proc.Process(context.WithoutCancel(ctx), mediaID)
	metrics.DispatchTotal.WithLabelValues(string(ModeInline), "success").Inc()
	return nil
}

// Mode implements Dispatcher.
func (d *Inline) Mode() Mode { return ModeInline }

// Close implements Dispatcher.
func (d *Inline) Close() error { return nil }
