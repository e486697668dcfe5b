package messaging

import (
	"context"
	"time"

	"github.com/glimte/rabbit-producer/internal/rabbitmq"
)

// OpenChannel opens a channel limited to prefetch unacknowledged deliveries and,
// when exchange is non-empty, declares it as a topic exchange. A channel that
// fails half way is closed before the error is returned.
func (p *Producer) OpenChannel(ctx context.Context, prefetch int, exchange string) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 1
	}

	raw, err := p.opener.OpenChannel()
	if err != nil {
		return nil, err
	}

	if err := raw.Qos(prefetch, 0, false); err != nil {
		raw.Close()
		return nil, &rabbitmq.ChannelError{Op: "qos", Err: err, Timestamp: time.Now()}
	}

	if exchange != "" {
		if err := rabbitmq.DeclareExchange(raw, rabbitmq.TopicExchange(exchange)); err != nil {
			raw.Close()
			return nil, err
		}
	}

	p.logger.Debug("channel opened", "prefetch", prefetch, "exchange", exchange)
	return newChannel(raw, p.codec, p.logger), nil
}

// OpenFireAndForgetChannel opens a channel on the fire-and-forget exchange
func (p *Producer) OpenFireAndForgetChannel(ctx context.Context, prefetch int) (*Channel, error) {
	return p.OpenChannel(ctx, prefetch, p.Exchange(PatternFireAndForget))
}

// OpenAcknowledgedChannel opens a channel on the acknowledged exchange
func (p *Producer) OpenAcknowledgedChannel(ctx context.Context, prefetch int) (*Channel, error) {
	return p.OpenChannel(ctx, prefetch, p.Exchange(PatternAcknowledged))
}

// OpenRPCChannel opens a channel on the RPC exchange. For batches, prefetch bounds
// how many replies the broker pushes before they are acknowledged.
func (p *Producer) OpenRPCChannel(ctx context.Context, prefetch int) (*Channel, error) {
	return p.OpenChannel(ctx, prefetch, p.Exchange(PatternRPC))
}
