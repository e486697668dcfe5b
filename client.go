// Copyright 2024 Rabbit Producer Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package producer is the entry point for publishing to RabbitMQ: it dials the
// broker from a config.Config and hands out a ready messaging.Producer.
package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/rabbit-producer/config"
	"github.com/glimte/rabbit-producer/health"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	"github.com/glimte/rabbit-producer/messaging"
)

// Client owns the broker connection and the producer built on it
type Client struct {
	manager  *rabbitmq.ConnectionManager
	producer *messaging.Producer
	logger   *slog.Logger
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	producerOptions []messaging.ProducerOption
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithProducerOptions appends producer options applied after the config-derived ones
func WithProducerOptions(opts ...messaging.ProducerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.producerOptions = append(cfg.producerOptions, opts...)
	}
}

// NewClient connects to the broker described by cfg
func NewClient(ctx context.Context, cfg config.Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cc)
	}

	codec, err := messaging.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	manager := rabbitmq.NewConnectionManager(cfg.URL,
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithConnectTimeout(cfg.ConnectTimeout),
	)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	producerOpts := append([]messaging.ProducerOption{
		messaging.WithLogger(cc.logger),
		messaging.WithCodec(codec),
		messaging.WithAppPrefix(cfg.AppPrefix),
		messaging.WithMessagePrefix(cfg.MessagePrefix),
		messaging.WithDefaultTTL(cfg.DefaultTTL),
		messaging.WithTracing(cfg.Telemetry.Tracing),
		messaging.WithMetrics(cfg.Telemetry.Metrics),
	}, cc.producerOptions...)

	p, err := messaging.NewProducer(manager, producerOpts...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Client{
		manager:  manager,
		producer: p,
		logger:   cc.logger,
	}, nil
}

// Producer returns the producer
func (c *Client) Producer() *messaging.Producer {
	return c.producer
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

// Health probes the broker and, when given, the named queues. Queues holding more
// than backlog messages are reported degraded.
func (c *Client) Health(ctx context.Context, backlog int, queues ...string) health.OverallHealth {
	checkers := []health.Checker{health.NewBrokerChecker(c.manager)}
	for _, q := range queues {
		checkers = append(checkers, health.NewQueueChecker(q, c.manager, backlog))
	}
	return health.Run(ctx, checkers...)
}

// Close closes the broker connection. Channels still open are closed with it.
func (c *Client) Close() error {
	return c.manager.Close()
}
