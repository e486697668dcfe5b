package messaging

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Exchange suffixes per delivery pattern
const (
	PatternFireAndForget = "bg"
	PatternAcknowledged  = "ack"
	PatternRPC           = "rpc"
	PatternCallback      = "callback"
)

// Producer publishes messages, performs RPC calls and schedules delayed deliveries.
// Every operation opens its own channel and closes it before returning, except
// where the caller passes a *Channel in.
type Producer struct {
	opener     rabbitmq.ChannelOpener
	builder    *EnvelopeBuilder
	codec      Codec
	appPrefix  string
	defaultTTL time.Duration
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
	otel       *instrumentation
}

type producerConfig struct {
	codec          Codec
	appPrefix      string
	messagePrefix  string
	defaultTTL     time.Duration
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
	tracingEnabled bool
	metricsEnabled bool
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// ProducerOption configures the Producer
type ProducerOption func(*producerConfig)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ProducerOption {
	return func(c *producerConfig) {
		c.logger = logger
	}
}

// WithCodec sets the body codec
func WithCodec(codec Codec) ProducerOption {
	return func(c *producerConfig) {
		c.codec = codec
	}
}

// WithAppPrefix namespaces exchanges and named queues so several applications
// can share one broker
func WithAppPrefix(prefix string) ProducerOption {
	return func(c *producerConfig) {
		c.appPrefix = prefix
	}
}

// WithMessagePrefix prefixes generated correlation ids
func WithMessagePrefix(prefix string) ProducerOption {
	return func(c *producerConfig) {
		c.messagePrefix = prefix
	}
}

// WithDefaultTTL sets the TTL used when a publish carries none
func WithDefaultTTL(ttl time.Duration) ProducerOption {
	return func(c *producerConfig) {
		c.defaultTTL = ttl
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ProducerOption {
	return func(c *producerConfig) {
		c.now = now
	}
}

// WithIDGenerator replaces the correlation id generator. Generated ids must be
// unique for as long as their reply queue exists.
func WithIDGenerator(newID func() string) ProducerOption {
	return func(c *producerConfig) {
		c.newID = newID
	}
}

// WithTracing enables OpenTelemetry spans
func WithTracing(enabled bool) ProducerOption {
	return func(c *producerConfig) {
		c.tracingEnabled = enabled
	}
}

// WithMetrics enables OpenTelemetry metrics
func WithMetrics(enabled bool) ProducerOption {
	return func(c *producerConfig) {
		c.metricsEnabled = enabled
	}
}

// WithTracerProvider sets the tracer provider (default: global)
func WithTracerProvider(tp trace.TracerProvider) ProducerOption {
	return func(c *producerConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider (default: global)
func WithMeterProvider(mp metric.MeterProvider) ProducerOption {
	return func(c *producerConfig) {
		c.meterProvider = mp
	}
}

// NewProducer creates a producer opening channels through opener
func NewProducer(opener rabbitmq.ChannelOpener, options ...ProducerOption) (*Producer, error) {
	if opener == nil {
		return nil, fmt.Errorf("channel opener cannot be nil")
	}

	cfg := &producerConfig{
		codec:      JSONCodec{},
		defaultTTL: contracts.DefaultTTL,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.newID == nil {
		prefix := cfg.messagePrefix
		cfg.newID = func() string {
			return prefix + uuid.NewString()
		}
	}

	otel, err := newInstrumentation(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	return &Producer{
		opener:     opener,
		builder:    NewEnvelopeBuilder(cfg.codec, cfg.defaultTTL),
		codec:      cfg.codec,
		appPrefix:  cfg.appPrefix,
		defaultTTL: cfg.defaultTTL,
		now:        cfg.now,
		newID:      cfg.newID,
		logger:     cfg.logger,
		otel:       otel,
	}, nil
}

// Exchange returns the exchange name used for a delivery pattern
func (p *Producer) Exchange(pattern string) string {
	return p.appPrefix + pattern
}

// Envelopes returns the producer's envelope builder
func (p *Producer) Envelopes() *EnvelopeBuilder {
	return p.builder
}
