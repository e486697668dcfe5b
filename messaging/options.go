package messaging

import (
	"time"

	"github.com/glimte/rabbit-producer/contracts"
)

type publishOptions struct {
	priority      contracts.Priority
	ttl           time.Duration
	expires       bool
	correlationID string
	replyTo       string
}

// PublishOption configures a single publish, call or schedule
type PublishOption func(*publishOptions)

// WithPriority sets the message priority
func WithPriority(priority contracts.Priority) PublishOption {
	return func(o *publishOptions) {
		o.priority = priority
	}
}

// WithTTL sets the message time-to-live. For RPC calls it is also the wait budget.
func WithTTL(ttl time.Duration) PublishOption {
	return func(o *publishOptions) {
		o.ttl = ttl
		o.expires = true
	}
}

// WithoutTTL publishes without an expiration property
func WithoutTTL() PublishOption {
	return func(o *publishOptions) {
		o.expires = false
	}
}

// WithCorrelationID sets the correlation id
func WithCorrelationID(id string) PublishOption {
	return func(o *publishOptions) {
		o.correlationID = id
	}
}

// WithReplyTo sets the reply-to queue
func WithReplyTo(queue string) PublishOption {
	return func(o *publishOptions) {
		o.replyTo = queue
	}
}

func resolveOptions(defaultTTL time.Duration, opts []PublishOption) publishOptions {
	o := publishOptions{
		priority: contracts.PriorityNormal,
		ttl:      defaultTTL,
		expires:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withOptions returns opts followed by extra without touching the caller's slice
func withOptions(opts []PublishOption, extra ...PublishOption) []PublishOption {
	out := make([]PublishOption, 0, len(opts)+len(extra))
	out = append(out, opts...)
	return append(out, extra...)
}
