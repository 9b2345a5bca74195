package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
)

// NATS publishes processing requests to a JetStream work-queue stream.
type NATS struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
}

func connect(cfg Config, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// ensureStream creates the work-queue stream when it does not exist yet.
func ensureStream(js nats.JetStreamContext, cfg Config) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", cfg.Stream, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}
	logging.Info("Created JetStream stream %s for %s", cfg.Stream, cfg.Subject)
	return nil
}

// NewNATS connects and makes sure the stream exists.
func NewNATS(ctx context.Context, cfg Config) (*NATS, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := connect(cfg, "family-gallery")
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream(nats.MaxWait(10 * time.Second))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}
	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATS{nc: nc, js: js, subject: cfg.Subject}, nil
}

// Dispatch publishes a request and waits for the stream to acknowledge it.
// The media ID doubles as the message ID so a repeated dispatch within the
// stream's duplicate window is stored once.
func (d *NATS) Dispatch(ctx context.Context, mediaID string) error {
	data, err := encodeRequest(mediaID)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(string(ModeNATS), "error").Inc()
		return err
	}
	if _, err := d.js.Publish(d.subject, data, nats.Context(ctx), nats.MsgId(mediaID)); err != nil {
		metrics.DispatchTotal.WithLabelValues(string(ModeNATS), "error").Inc()
		return fmt.Errorf("failed to publish process request for %s: %w", mediaID, err)
	}
	metrics.DispatchTotal.WithLabelValues(string(ModeNATS), "success").Inc()
	logging.Debug("Queued processing for %s on %s", mediaID, d.subject)
	return nil
}

// Mode implements Dispatcher.
func (d *NATS) Mode() Mode { return ModeNATS }

// Close flushes pending publishes and closes the connection.
func (d *NATS) Close() error {
	return d.nc.Drain()
}
