// internal/consumer/consumer.go
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"nubia/internal/event"
	"nubia/internal/projection"
	"nubia/internal/router"
)

// Message is one delivery from the bus. Key is the partition key assigned
// upstream, which the delivery contract guarantees to be the target
// entity identifier.
type Message struct {
	ID    uuid.UUID
	Topic string
	Key   string
	Value []byte
}

// Source hands out deliveries in arrival order. Next blocks until a
// message is available, returns io.EOF when the source is drained, or the
// context error when ctx ends.
type Source interface {
	Next(ctx context.Context) (Message, error)
}

// ChanSource adapts an in-process channel to the Source contract. Closing
// the channel drains the source.
type ChanSource chan Message

func (s ChanSource) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg, ok := <-s:
		if !ok {
			return Message{}, io.EOF
		}
		return msg, nil
	}
}

// Enqueue offers a message to the source without blocking past ctx.
func (s ChanSource) Enqueue(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s <- msg:
		return nil
	}
}

// Config tunes the consumer. A zero EventsPerSecond disables intake
// throttling.
type Config struct {
	Workers         int
	EventsPerSecond float64
	Burst           int
}

// Consumer drains a source and applies each delivery through the router.
// Deliveries are fanned out to a fixed worker pool keyed by partition
// key, so all events for one identifier are applied sequentially in
// arrival order while unrelated identifiers proceed in parallel.
type Consumer struct {
	source  Source
	router  *router.Router
	logger  *zap.Logger
	limiter *rate.Limiter
	workers int

	processed metric.Int64Counter
	rejected  metric.Int64Counter
	ignored   metric.Int64Counter
}

// New creates a consumer over the given source and router.
func New(source Source, r *router.Router, logger *zap.Logger, cfg Config) (*Consumer, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}

	meter := otel.Meter("nubia/consumer")
	processed, err := meter.Int64Counter("events_processed_total",
		metric.WithDescription("Deliveries applied to the projection."),
	)
	if err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}
	rejected, err := meter.Int64Counter("events_rejected_total",
		metric.WithDescription("Deliveries rejected with a typed failure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	ignored, err := meter.Int64Counter("events_ignored_total",
		metric.WithDescription("Deliveries skipped for unrecognized kinds."),
	)
	if err != nil {
		return nil, fmt.Errorf("create ignored counter: %w", err)
	}

	return &Consumer{
		source:    source,
		router:    r,
		logger:    logger,
		limiter:   limiter,
		workers:   workers,
		processed: processed,
		rejected:  rejected,
		ignored:   ignored,
	}, nil
}

// Run consumes until the source drains or ctx is canceled. Failures of
// individual deliveries are logged and counted, never fatal: the
// transport upstream owns retry and dead-letter policy.
func (c *Consumer) Run(ctx context.Context) error {
	queues := make([]chan Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan Message, 64)
		wg.Add(1)
		go func(queue <-chan Message) {
			defer wg.Done()
			for msg := range queue {
				c.handle(ctx, msg)
			}
		}(queues[i])
	}

	defer func() {
		for _, queue := range queues {
			close(queue)
		}
		wg.Wait()
	}()

	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		msg, err := c.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		queue := queues[partition(msg.Key, c.workers)]
		select {
		case <-ctx.Done():
			return ctx.Err()
		case queue <- msg:
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	var env event.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		c.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "malformed")))
		c.logger.Warn("dropping undecodable delivery",
			zap.String("delivery_id", msg.ID.String()),
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return
	}

	result, err := c.router.Route(ctx, env)
	switch {
	case err != nil:
		c.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		c.logger.Warn("event rejected",
			zap.String("delivery_id", msg.ID.String()),
			zap.String("topic", msg.Topic),
			zap.String("kind", env.Kind),
			zap.Error(err),
		)
	case result.Ignored:
		c.ignored.Add(ctx, 1)
	default:
		c.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", env.Kind)))
	}
}

// partition maps a key to a worker index with FNV-1a, so a given
// identifier always lands on the same worker.
func partition(key string, workers int) int {
	if workers <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}

func failureReason(err error) string {
	var validation *projection.ValidationError
	var outOfOrder *projection.OutOfOrderError
	switch {
	case errors.Is(err, event.ErrMissingKind):
		return "malformed"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &outOfOrder):
		return "out_of_order"
	case errors.Is(err, projection.ErrNotFound):
		return "not_found"
	case errors.Is(err, projection.ErrDuplicate):
		return "duplicate"
	default:
		return "other"
	}
}
