package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Mode selects how processing requests reach a worker.
type Mode string

const (
	// ModeInline runs processing synchronously in the calling goroutine.
	ModeInline Mode = "inline"
	// ModeNATS publishes requests to a JetStream work queue consumed by
	// gallery-worker processes.
	ModeNATS Mode = "nats"
)

// Processor is implemented by the processing worker.
type Processor interface {
	Process(ctx context.Context, mediaID string)
}

// Dispatcher hands a media item to the processing worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, mediaID string) error
	Mode() Mode
	Close() error
}

// Config selects and tunes a dispatcher.
type Config struct {
	Mode       Mode
	URL        string
	Stream     string
	Subject    string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
	// Workers is the consumer concurrency; 0 means one per CPU.
	Workers int
}

// Validate checks the fields required by the selected mode.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeInline:
		return nil
	case ModeNATS:
		var errs []error
		if c.URL == "" {
			errs = append(errs, errors.New("nats url is required"))
		}
		if c.Stream == "" {
			errs = append(errs, errors.New("nats stream is required"))
		}
		if c.Subject == "" {
			errs = append(errs, errors.New("nats subject is required"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Mode)
	}
}

// New builds the dispatcher for cfg.Mode. proc is only used in inline mode.
func New(ctx context.Context, cfg Config, proc Processor) (Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeNATS:
		return NewNATS(ctx, cfg)
	default:
		if proc == nil {
			return nil, errors.New("inline dispatch requires a processor")
		}
		return NewInline(proc), nil
	}
}

// ProcessRequest is the queued message body.
type ProcessRequest struct {
	MediaID     string    `json:"mediaId"`
	RequestedAt time.Time `json:"requestedAt"`
}

func encodeRequest(mediaID string) ([]byte, error) {
	return json.Marshal(ProcessRequest{MediaID: mediaID, RequestedAt: time.Now().UTC()})
}

// decodeRequest rejects bodies that can never be processed.
func decodeRequest(data []byte) (ProcessRequest, error) {
	var req ProcessRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid process request: %w", err)
	}
	if req.MediaID == "" {
		return req, errors.New("process request has no media id")
	}
	return req, nil
}
