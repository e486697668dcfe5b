// Package rabbitmq wraps the parts of the AMQP 0-9-1 client the producer depends on.
//
// This package includes:
//   - ConnectionManager: Dials RabbitMQ once and opens channels on the shared connection
//   - Channel: The narrow broker-channel interface the producer drives (satisfied by *amqp.Channel)
//   - Topology helpers: Exchange, queue and binding declarations applied to a Channel
//   - Consumer fan-in: Forwards deliveries of several consumers into one inbox
//
// Reconnection is not attempted: a lost connection surfaces as an error to the caller
// of the operation in flight.
package rabbitmq
