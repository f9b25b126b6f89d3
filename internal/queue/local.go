package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const localPollInterval = 20 * time.Millisecond

// LocalQueue is an in-process queue with the same visibility-timeout and
// receive-count semantics as the Redis backend. It is used when Redis is not
// configured and by tests.
type LocalQueue struct {
	mu       sync.Mutex
	seq      int64
	messages map[string]*localMessage
	order    []string
	notify   chan struct{}
	now      func() time.Time
}

type localMessage struct {
	handle       string
	body         string
	receiveCount int
	visibleAt    time.Time
}

func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		messages: make(map[string]*localMessage),
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.seq++
	handle := strconv.FormatInt(q.seq, 10)
	q.messages[handle] = &localMessage{handle: handle, body: jobID, visibleAt: q.now()}
	q.order = append(q.order, handle)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *LocalQueue) Receive(ctx context.Context, opts ReceiveOptions) ([]Delivery, error) {
	opts = normalize(opts)
	deadline := q.now().Add(opts.Wait)

	for {
		if deliveries := q.take(opts); len(deliveries) > 0 {
			return deliveries, nil
		}
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > localPollInterval {
			remaining = localPollInterval
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *LocalQueue) take(opts ReceiveOptions) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	deliveries := make([]Delivery, 0, opts.MaxMessages)
	for _, handle := range q.order {
		message := q.messages[handle]
		if message.visibleAt.After(now) {
			continue
		}
		message.receiveCount++
		message.visibleAt = now.Add(opts.VisibilityTimeout)
		deliveries = append(deliveries, Delivery{
			Body:         message.body,
			Handle:       message.handle,
			ReceiveCount: message.receiveCount,
		})
		if len(deliveries) == opts.MaxMessages {
			break
		}
	}
	return deliveries
}

func (q *LocalQueue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.messages[handle]; !ok {
		return ErrUnknownHandle
	}
	delete(q.messages, handle)
	for i, candidate := range q.order {
		if candidate == handle {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

func (q *LocalQueue) ExtendVisibility(_ context.Context, handle string, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	message, ok := q.messages[handle]
	if !ok {
		return ErrUnknownHandle
	}
	message.visibleAt = q.now().Add(timeout)
	return nil
}

// Len reports how many messages are stored, visible or not.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Bodies returns the stored message bodies in enqueue order.
func (q *LocalQueue) Bodies() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	bodies := make([]string, 0, len(q.order))
	for _, handle := range q.order {
		bodies = append(bodies, q.messages[handle].body)
	}
	return bodies
}
