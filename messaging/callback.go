package messaging

import (
	"context"

	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CallbackQueueName returns the durable queue collecting callbacks for routingKey
func (p *Producer) CallbackQueueName(routingKey string) string {
	return p.appPrefix + "callback_queue_" + routingKey
}

// DeclareCallbackQueue declares the durable callback queue for routingKey, binds it
// to the callback exchange and consumes it on ch. Unlike RPC replies, callbacks are
// not matched: handler receives every delivery with the correlation id it carries.
// Deliveries are acknowledged after handler returns unless autoAck is set. The
// consumer lives until ch is closed, is driven by ch.Wait, and is not counted by
// Pending, so it never holds up DrainAll.
func (p *Producer) DeclareCallbackQueue(ctx context.Context, ch *Channel, routingKey string, handler func(contracts.Reply), autoAck bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	exchange := p.Exchange(PatternCallback)
	if err := rabbitmq.DeclareExchange(ch.raw, rabbitmq.TopicExchange(exchange)); err != nil {
		return "", err
	}

	name := p.CallbackQueueName(routingKey)
	_, err := rabbitmq.DeclareQueue(ch.raw, rabbitmq.QueueDeclaration{
		Name:    name,
		Durable: true,
		Arguments: amqp.Table{
			rabbitmq.ArgMaxPriority: int(contracts.PriorityMax),
			rabbitmq.ArgMessageTTL:  contracts.DefaultTTL.Milliseconds(),
		},
	})
	if err != nil {
		return "", err
	}

	if err := rabbitmq.BindQueue(ch.raw, rabbitmq.Binding{
		Queue:      name,
		Exchange:   exchange,
		RoutingKey: routingKey,
	}); err != nil {
		return "", err
	}

	err = ch.subscribe(&registration{
		queue:       name,
		consumerTag: "callback." + p.newID(),
		autoAck:     autoAck,
		onReply:     handler,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("consuming callback queue", "queue", name, "exchange", exchange, "routingKey", routingKey)
	return name, nil
}
