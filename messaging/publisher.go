package messaging

import (
	"context"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	"go.opentelemetry.io/otel/attribute"
)

// PublishFireAndForget publishes body to the fire-and-forget exchange.
// Nobody reports back whether or how the message was handled.
func (p *Producer) PublishFireAndForget(ctx context.Context, routingKey string, body any, opts ...PublishOption) (err error) {
	exchange := p.Exchange(PatternFireAndForget)
	ctx, span := p.otel.start(ctx, "producer.publish",
		attribute.String("messaging.destination", exchange),
		attribute.String("messaging.routing_key", routingKey))
	defer func() {
		p.otel.recordPublish(ctx, PatternFireAndForget, err)
		p.otel.end(span, err)
	}()

	ch, err := p.OpenFireAndForgetChannel(ctx, 1)
	if err != nil {
		return err
	}
	defer closeInto(ch, &err)

	env, err := p.builder.Build(body, opts...)
	if err != nil {
		return err
	}
	return p.publish(ctx, ch, exchange, routingKey, env)
}

// PublishAcknowledged publishes body to the acknowledged exchange and returns
// the correlation id stamped on it, which consumers echo when they report back.
func (p *Producer) PublishAcknowledged(ctx context.Context, routingKey string, body any, opts ...PublishOption) (correlationID string, err error) {
	ctx, span := p.otel.start(ctx, "producer.publish",
		attribute.String("messaging.destination", p.Exchange(PatternAcknowledged)),
		attribute.String("messaging.routing_key", routingKey))
	defer func() {
		p.otel.recordPublish(ctx, PatternAcknowledged, err)
		p.otel.end(span, err)
	}()

	ch, err := p.OpenAcknowledgedChannel(ctx, 1)
	if err != nil {
		return "", err
	}
	defer closeInto(ch, &err)

	return p.AppendAcknowledged(ctx, ch, routingKey, body, opts...)
}

// AppendAcknowledged publishes an acknowledged message on a caller-owned channel,
// which stays open. A correlation id is generated unless opts carry one.
func (p *Producer) AppendAcknowledged(ctx context.Context, ch *Channel, routingKey string, body any, opts ...PublishOption) (string, error) {
	env, err := p.builder.Build(body, append([]PublishOption{WithCorrelationID(p.newID())}, opts...)...)
	if err != nil {
		return "", err
	}
	if err := p.publish(ctx, ch, p.Exchange(PatternAcknowledged), routingKey, env); err != nil {
		return "", err
	}
	return env.CorrelationID, nil
}

func (p *Producer) publish(ctx context.Context, ch *Channel, exchange, routingKey string, env contracts.Envelope) error {
	if ch.closed {
		return rabbitmq.ErrChannelClosed
	}

	err := ch.raw.PublishWithContext(ctx, exchange, routingKey, false, false, env.Publishing())
	if err != nil {
		return &rabbitmq.PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	p.logger.Debug("message published",
		"exchange", exchange,
		"routingKey", routingKey,
		"priority", env.Priority,
		"expiration", env.Expiration(),
		"correlationId", env.CorrelationID)
	return nil
}

// closeInto closes ch and reports the close error unless an earlier one is set
func closeInto(ch *Channel, errp *error) {
	if err := ch.Close(); err != nil && *errp == nil {
		*errp = err
	}
}
