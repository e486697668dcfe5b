package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
)

// replyQueue is the per-request reply queue: broker-named, visible only to
// this connection, and gone with the channel.
func replyQueue() rabbitmq.QueueDeclaration {
	return rabbitmq.QueueDeclaration{
		Name:       "",
		Durable:    false,
		AutoDelete: true,
		Exclusive:  true,
		Arguments: amqp.Table{
			rabbitmq.ArgMaxPriority: int(contracts.PriorityHigh),
		},
	}
}

// Call publishes an RPC request and blocks until the matching reply arrives
// or the TTL elapses. The TTL (WithTTL, default 24h) is both the request's
// expiration and the wait budget. The channel is closed on every return path.
func (p *Producer) Call(ctx context.Context, routingKey string, body any, opts ...PublishOption) (contracts.Reply, error) {
	ttl := resolveOptions(p.defaultTTL, opts).ttl
	started := p.now()

	ctx, span := p.otel.start(ctx, "producer.call",
		attribute.String("messaging.destination", p.Exchange(PatternRPC)),
		attribute.String("messaging.routing_key", routingKey))

	reply, err := p.call(ctx, routingKey, body, ttl, opts)

	p.otel.recordRPC(ctx, p.now().Sub(started), err)
	p.otel.end(span, err)
	return reply, err
}

func (p *Producer) call(ctx context.Context, routingKey string, body any, ttl time.Duration, opts []PublishOption) (contracts.Reply, error) {
	ch, err := p.OpenRPCChannel(ctx, 1)
	if err != nil {
		return contracts.Reply{}, err
	}
	defer ch.closeQuietly()

	var (
		reply    contracts.Reply
		received bool
	)
	correlationID, err := p.Append(ctx, ch, routingKey, body, func(r contracts.Reply) {
		reply = r
		received = true
	}, opts...)
	if err != nil {
		return contracts.Reply{}, err
	}

	deadline := p.now().Add(ttl)
	for !received {
		err := ch.Wait(ctx, deadline.Sub(p.now()))
		if errors.Is(err, ErrWaitTimeout) {
			ch.closeQuietly()
			p.logger.Warn("rpc call timed out",
				"routingKey", routingKey,
				"correlationId", correlationID,
				"ttl", ttl)
			return contracts.Reply{}, &contracts.TimeoutError{TTL: ttl}
		}
		if err != nil {
			return contracts.Reply{}, err
		}
	}

	p.logger.Debug("rpc reply received", "routingKey", routingKey, "correlationId", correlationID)
	return reply, nil
}

// Append issues an RPC request on ch without waiting for its reply. onResult runs
// inside a later Wait or DrainAll on the same channel once the matching reply
// arrives. Any number of requests may share one channel; each gets its own reply
// queue and correlation id, which is returned.
func (p *Producer) Append(ctx context.Context, ch *Channel, routingKey string, body any, onResult func(contracts.Reply), opts ...PublishOption) (string, error) {
	correlationID := p.newID()

	q, err := rabbitmq.DeclareQueue(ch.raw, replyQueue())
	if err != nil {
		return "", err
	}

	env, err := p.builder.Build(body, withOptions(opts,
		WithCorrelationID(correlationID),
		WithReplyTo(q.Name),
	)...)
	if err != nil {
		return "", err
	}

	reg := &registration{
		queue:         q.Name,
		consumerTag:   "rpc." + correlationID,
		correlationID: correlationID,
		oneShot:       true,
		onReply:       onResult,
	}
	if err := ch.subscribe(reg); err != nil {
		return "", err
	}

	if err := p.publish(ctx, ch, p.Exchange(PatternRPC), routingKey, env); err != nil {
		ch.forget(reg.consumerTag)
		return "", err
	}

	p.logger.Debug("rpc request sent",
		"routingKey", routingKey,
		"correlationId", correlationID,
		"replyTo", q.Name)
	return correlationID, nil
}

// DrainAll waits until every request appended to ch has its reply, or until ttl
// has passed since DrainAll was entered; the budget is shared by all pending
// requests. ch is closed before DrainAll returns. On exhaustion the returned
// *contracts.TimeoutError carries the number of requests left unanswered.
func (p *Producer) DrainAll(ctx context.Context, ch *Channel, ttl time.Duration) error {
	started := p.now()
	ctx, span := p.otel.start(ctx, "producer.drain_all",
		attribute.Int("producer.pending", ch.Pending()))

	err := p.drainAll(ctx, ch, ttl, started)

	p.otel.recordRPC(ctx, p.now().Sub(started), err)
	p.otel.end(span, err)
	return err
}

func (p *Producer) drainAll(ctx context.Context, ch *Channel, ttl time.Duration, started time.Time) error {
	var waitErr error
	for ch.Pending() > 0 {
		remaining := ttl - p.now().Sub(started)
		if remaining <= 0 {
			break
		}
		err := ch.Wait(ctx, remaining)
		if errors.Is(err, ErrWaitTimeout) {
			break
		}
		if err != nil {
			waitErr = err
			break
		}
	}

	outstanding := ch.Pending()
	ch.closeQuietly()

	if waitErr != nil {
		return waitErr
	}
	if outstanding > 0 {
		p.logger.Warn("parallel rpc calls timed out", "ttl", ttl, "outstanding", outstanding)
		return &contracts.TimeoutError{TTL: ttl, Outstanding: outstanding, Batched: true}
	}
	return nil
}
