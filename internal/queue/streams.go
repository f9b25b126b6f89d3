package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobIDField = "job_id"

type StreamsConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

// StreamsQueue implements Producer+Consumer on a Redis Streams consumer group.
// Visibility is modelled by pending-entry idle time: entries idle longer than
// the visibility timeout are reclaimed with XAUTOCLAIM before new entries are read.
type StreamsQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "report_jobs"
	}
	if cfg.Group == "" {
		cfg.Group = "report_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}

	var options *redis.Options
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		options = parsed
	} else {
		options = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:   client,
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

// Ping reports whether Redis is reachable.
func (q *StreamsQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, jobID string) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			jobIDField:    jobID,
			"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Receive(ctx context.Context, opts ReceiveOptions) ([]Delivery, error) {
	opts = normalize(opts)

	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  opts.VisibilityTimeout,
		Start:    "0-0",
		Count:    int64(opts.MaxMessages),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if len(claimed) > 0 {
		return q.toDeliveries(ctx, claimed)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(opts.MaxMessages),
		Block:    opts.Wait,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	deliveries := make([]Delivery, 0, opts.MaxMessages)
	for _, stream := range streams {
		for _, item := range stream.Messages {
			deliveries = append(deliveries, Delivery{
				Body:         fieldString(item, jobIDField),
				Handle:       item.ID,
				ReceiveCount: 1,
			})
		}
	}
	return deliveries, nil
}

func (q *StreamsQueue) Delete(ctx context.Context, handle string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, handle).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, handle).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

// ExtendVisibility resets the entry's idle time. JUSTID keeps the delivery
// counter unchanged.
func (q *StreamsQueue) ExtendVisibility(ctx context.Context, handle string, _ time.Duration) error {
	ids, err := q.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  0,
		Messages: []string{handle},
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim: %w", err)
	}
	if len(ids) == 0 {
		return ErrUnknownHandle
	}
	return nil
}

func (q *StreamsQueue) toDeliveries(ctx context.Context, items []redis.XMessage) ([]Delivery, error) {
	deliveries := make([]Delivery, 0, len(items))
	for _, item := range items {
		count := 1
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.stream,
			Group:  q.group,
			Start:  item.ID,
			End:    item.ID,
			Count:  1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xpending: %w", err)
		}
		if len(pending) == 1 {
			count = int(pending[0].RetryCount)
		}
		deliveries = append(deliveries, Delivery{
			Body:         fieldString(item, jobIDField),
			Handle:       item.ID,
			ReceiveCount: count,
		})
	}
	return deliveries, nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func fieldString(item redis.XMessage, key string) string {
	value, ok := item.Values[key]
	if !ok {
		return ""
	}
	switch casted := value.(type) {
	case string:
		return casted
	case []byte:
		return string(casted)
	default:
		return fmt.Sprintf("%v", casted)
	}
}
