package queue

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownHandle = errors.New("unknown delivery handle")

// Delivery is one received message. ReceiveCount is the broker's approximate
// delivery count; it can lag and must only be used as a forward-progress limit.
type Delivery struct {
	Body         string
	Handle       string
	ReceiveCount int
}

type ReceiveOptions struct {
	MaxMessages       int
	Wait              time.Duration
	VisibilityTimeout time.Duration
}

// Producer publishes a job reference.
type Producer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Consumer is the at-least-once receive/delete protocol. Received messages stay
// hidden for VisibilityTimeout and reappear unless deleted.
type Consumer interface {
	Receive(ctx context.Context, opts ReceiveOptions) ([]Delivery, error)
	Delete(ctx context.Context, handle string) error
	ExtendVisibility(ctx context.Context, handle string, timeout time.Duration) error
}

func normalize(opts ReceiveOptions) ReceiveOptions {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 60 * time.Second
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}
	return opts
}
