package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"family-gallery/internal/logging"
	"family-gallery/internal/metrics"
	"family-gallery/internal/workers"
)

// fetchWait bounds each pull so workers notice shutdown promptly.
const fetchWait = 5 * time.Second

// defaultAckWait is the server's redelivery timeout when none is configured.
const defaultAckWait = 30 * time.Second

// Gate delays fetching while the process is under memory pressure.
// *memory.Monitor implements it.
type Gate interface {
	Wait(ctx context.Context) error
}

// Consumer pulls processing requests from the durable JetStream consumer
// and runs them through a Processor. Delivery is at least once: a message
// is acknowledged only after Process returns.
type Consumer struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	proc    Processor
	gate    Gate
	workers int
	durable string
	ackWait time.Duration
}

// NewConsumer connects, ensures the stream, and binds the durable pull
// consumer described by cfg. gate may be nil.
func NewConsumer(ctx context.Context, cfg Config, proc Processor, gate Gate) (*Consumer, error) {
	if cfg.Mode != ModeNATS {
		return nil, fmt.Errorf("consumer requires %s dispatch mode, got %q", ModeNATS, cfg.Mode)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Durable == "" {
		return nil, errors.New("nats durable name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := connect(cfg, "gallery-worker")
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

	opts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.ManualAck(),
		nats.AckExplicit(),
	}
	ackWait := defaultAckWait
	if cfg.AckWait > 0 {
		ackWait = cfg.AckWait
		opts = append(opts, nats.AckWait(cfg.AckWait))
	}
	if cfg.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(cfg.MaxDeliver))
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, opts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to bind consumer %s: %w", cfg.Durable, err)
	}

	return &Consumer{
		nc:      nc,
		sub:     sub,
		proc:    proc,
		gate:    gate,
		workers: workers.ForCPU(0, cfg.Workers),
		durable: cfg.Durable,
		ackWait: ackWait,
	}, nil
}

// Workers returns the number of concurrent fetch loops Run starts.
func (c *Consumer) Workers() int {
	return c.workers
}

// Run processes messages until ctx is cancelled, then waits for in-flight
// items to finish.
func (c *Consumer) Run(ctx context.Context) error {
	logging.Info("Consumer %s started with %d workers", c.durable, c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	logging.Info("Consumer %s stopped", c.durable)
	return nil
}

func (c *Consumer) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if c.gate != nil {
			if err := c.gate.Wait(ctx); err != nil {
				return
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := c.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			logging.Warn("Worker %d fetch failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

// handle settles one message. Undecodable payloads are terminated since
// redelivery cannot fix them; interrupted items are negatively acked so
// another worker picks them up.
func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	stop := c.keepAlive(msg)
	terminal := c.handleMessage(ctx, msg.Data)
	stop()

	if terminal {
		if err := msg.Term(); err != nil {
			logging.Warn("Failed to terminate message: %v", err)
		}
		return
	}
	if ctx.Err() != nil {
		metrics.ConsumerMessagesTotal.WithLabelValues("nak").Inc()
		if err := msg.Nak(); err != nil {
			logging.Warn("Failed to nak message: %v", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		logging.Warn("Failed to ack message: %v", err)
	}
}

// keepAlive tells the server the message is still being worked on so a
// slow transcode is not redelivered to another worker while it runs.
func (c *Consumer) keepAlive(msg *nats.Msg) (stop func()) {
	if c.ackWait <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.ackWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					logging.Debug("Failed to extend ack deadline: %v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// handleMessage decodes and processes a request body. It reports whether
// the message can never be processed.
func (c *Consumer) handleMessage(ctx context.Context, data []byte) bool {
	req, err := decodeRequest(data)
	if err != nil {
		logging.Error("Dropping message: %v", err)
		metrics.ConsumerMessagesTotal.WithLabelValues("invalid").Inc()
		return true
	}

	logging.Debug("Processing %s (queued %v ago)", req.MediaID, time.Since(req.RequestedAt).Round(time.Millisecond))
	c.proc.Process(ctx, req.MediaID)
	metrics.ConsumerMessagesTotal.WithLabelValues("processed").Inc()
	return false
}

// Close drains the subscription and connection.
func (c *Consumer) Close() error {
	return c.nc.Drain()
}
