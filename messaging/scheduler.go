package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DelayedQueueGrace is how long a delayed queue outlives its TTL before
	// the broker deletes it, bounding the life of queues whose message was purged.
	DelayedQueueGrace = 60 * time.Second

	maxQueueNameLength = 255
)

// DelayedQueue describes the transient queue that holds one scheduled delivery.
// Nothing is stored: the broker's TTL and dead-letter routing do the delivery.
type DelayedQueue struct {
	Name       string
	Exchange   string
	RoutingKey string
	DeliverAt  time.Time
	TTL        time.Duration
	Expiry     time.Duration
}

// NewDelayedQueue derives the queue for a delivery to exchange/routingKey at deliverAt.
// The target is rounded up to the millisecond so the TTL never fires early.
func NewDelayedQueue(appPrefix, exchange, routingKey string, deliverAt, now time.Time) DelayedQueue {
	if rounded := deliverAt.Truncate(time.Millisecond); rounded.Before(deliverAt) {
		deliverAt = rounded.Add(time.Millisecond)
	}
	ttl := deliverAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	if rounded := ttl.Truncate(time.Millisecond); rounded < ttl {
		ttl = rounded + time.Millisecond
	}

	return DelayedQueue{
		Name:       DelayedQueueName(appPrefix, exchange, routingKey, deliverAt),
		Exchange:   exchange,
		RoutingKey: routingKey,
		DeliverAt:  deliverAt,
		TTL:        ttl,
		Expiry:     ttl + DelayedQueueGrace,
	}
}

// DelayedQueueName is deterministic in exchange, routing key and the target
// millisecond, so only schedules with the same deadline share a queue. Names too
// long for the broker fall back to a hash of exchange and routing key.
func DelayedQueueName(appPrefix, exchange, routingKey string, deliverAt time.Time) string {
	name := fmt.Sprintf("%sdelayed.%s.%s.%d", appPrefix, exchange, routingKey, deliverAt.UnixMilli())
	if len(name) <= maxQueueNameLength {
		return name
	}
	sum := xxhash.Sum64String(exchange + "\x00" + routingKey)
	return fmt.Sprintf("%sdelayed.%016x.%d", appPrefix, sum, deliverAt.UnixMilli())
}

// Arguments returns the queue arguments that turn the queue into a timer
func (d DelayedQueue) Arguments() amqp.Table {
	return amqp.Table{
		rabbitmq.ArgDeadLetterExchange:   d.Exchange,
		rabbitmq.ArgDeadLetterRoutingKey: d.RoutingKey,
		rabbitmq.ArgMessageTTL:           d.TTL.Milliseconds(),
		rabbitmq.ArgExpires:              d.Expiry.Milliseconds(),
		rabbitmq.ArgMaxPriority:          int(contracts.PriorityMax),
	}
}

// Declaration returns the queue declaration
func (d DelayedQueue) Declaration() rabbitmq.QueueDeclaration {
	return rabbitmq.QueueDeclaration{
		Name:       d.Name,
		Durable:    false,
		AutoDelete: true,
		Arguments:  d.Arguments(),
	}
}

// ScheduleDelayed arranges for body to reach exchange/routingKey at or after deliverAt.
// The message waits in a transient queue whose TTL expires at deliverAt and whose
// dead-letter settings route it to the real destination; no local timer runs, so
// the schedule survives producer restarts. Only WithPriority is honoured from opts.
func (p *Producer) ScheduleDelayed(ctx context.Context, exchange, routingKey string, body any, deliverAt time.Time, opts ...PublishOption) (dq DelayedQueue, err error) {
	ctx, span := p.otel.start(ctx, "producer.schedule",
		attribute.String("messaging.destination", exchange),
		attribute.String("messaging.routing_key", routingKey),
		attribute.Int64("producer.deliver_at", deliverAt.Unix()))
	defer func() {
		p.otel.recordSchedule(ctx, err)
		p.otel.end(span, err)
	}()

	ch, err := p.OpenChannel(ctx, 1, exchange)
	if err != nil {
		return DelayedQueue{}, err
	}
	defer func() { closeInto(ch, &err) }()

	dq = NewDelayedQueue(p.appPrefix, exchange, routingKey, deliverAt, p.now())
	expiry := WithoutTTL()

	if _, err = rabbitmq.DeclareQueue(ch.raw, dq.Declaration()); err != nil {
		if !rabbitmq.IsPreconditionFailed(err) {
			return dq, err
		}

		// An earlier schedule for the same deadline declared the queue while
		// more time remained, so its TTL is at least ours. Reuse it; the broker
		// applies the lower of queue and message TTL.
		p.logger.Info("delayed queue exists with other arguments, reusing it",
			"queue", dq.Name,
			"ttl", dq.TTL)
		ch.closeQuietly()

		var retry *Channel
		if retry, err = p.OpenChannel(ctx, 1, ""); err != nil {
			return dq, err
		}
		ch = retry
		if _, err = rabbitmq.InspectQueue(ch.raw, dq.Name); err != nil {
			return dq, err
		}
		expiry = WithTTL(dq.TTL)
	}

	env, err := p.builder.Build(body, withOptions(opts, expiry,
		WithCorrelationID(""),
		WithReplyTo(""),
	)...)
	if err != nil {
		return dq, err
	}

	// The default exchange routes straight to the queue by name.
	if err = p.publish(ctx, ch, "", dq.Name, env); err != nil {
		return dq, err
	}

	p.logger.Info("delivery scheduled",
		"exchange", exchange,
		"routingKey", routingKey,
		"queue", dq.Name,
		"deliverAt", deliverAt,
		"ttl", dq.TTL)
	return dq, nil
}

// DeclareFixedDelayQueue declares a durable queue that forwards every message
// to exchange/routingKey delay after it was enqueued. Publish into it through the
// default exchange using the returned name.
func (p *Producer) DeclareFixedDelayQueue(ctx context.Context, exchange, routingKey string, delay time.Duration) (name string, err error) {
	ch, err := p.OpenChannel(ctx, 1, exchange)
	if err != nil {
		return "", err
	}
	defer closeInto(ch, &err)

	name = fmt.Sprintf("%sdelayed_queue_%s.%d", p.appPrefix, routingKey, int64(delay/time.Second))
	_, err = rabbitmq.DeclareQueue(ch.raw, rabbitmq.QueueDeclaration{
		Name:    name,
		Durable: true,
		Arguments: amqp.Table{
			rabbitmq.ArgDeadLetterExchange:   exchange,
			rabbitmq.ArgDeadLetterRoutingKey: routingKey,
			rabbitmq.ArgMaxPriority:          int(contracts.PriorityMax),
			rabbitmq.ArgMessageTTL:           delay.Milliseconds(),
		},
	})
	if err != nil {
		return "", err
	}
	return name, nil
}
