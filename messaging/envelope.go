package messaging

import (
	"fmt"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
)

// EnvelopeBuilder builds outgoing envelopes
type EnvelopeBuilder struct {
	codec      Codec
	defaultTTL time.Duration
}

// NewEnvelopeBuilder creates a builder encoding bodies with codec
func NewEnvelopeBuilder(codec Codec, defaultTTL time.Duration) *EnvelopeBuilder {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &EnvelopeBuilder{codec: codec, defaultTTL: defaultTTL}
}

// Build encodes body and applies opts. Messages are always persistent.
func (b *EnvelopeBuilder) Build(body any, opts ...PublishOption) (contracts.Envelope, error) {
	o := resolveOptions(b.defaultTTL, opts)

	data, err := b.codec.Encode(body)
	if err != nil {
		return contracts.Envelope{}, fmt.Errorf("failed to encode body as %s: %w", b.codec.Name(), err)
	}

	return contracts.Envelope{
		Body:          data,
		ContentType:   b.codec.ContentType(),
		Priority:      o.priority,
		TTL:           o.ttl,
		Expires:       o.expires,
		Persistent:    true,
		CorrelationID: o.correlationID,
		ReplyTo:       o.replyTo,
	}, nil
}
