package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rabbit-producer/contracts"
	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrWaitTimeout is returned by Channel.Wait when no delivery arrived in time
var ErrWaitTimeout = errors.New("wait timed out")

// registration is a reply listener installed on the channel's consumer set
type registration struct {
	queue         string
	consumerTag   string
	correlationID string // only checked for one-shot registrations
	oneShot       bool
	autoAck       bool
	onReply       func(contracts.Reply)
}

// Channel is a broker channel owned by a single operation or batch.
// Its registrations are only touched by the goroutine driving Wait, so the
// table needs no lock. Close is safe to call more than once.
type Channel struct {
	raw           rabbitmq.Channel
	inbox         *rabbitmq.Inbox
	closeNotify   chan *amqp.Error
	registrations map[string]*registration
	pending       int
	codec         Codec
	logger        *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func newChannel(raw rabbitmq.Channel, codec Codec, logger *slog.Logger) *Channel {
	return &Channel{
		raw:           raw,
		inbox:         rabbitmq.NewInbox(16),
		closeNotify:   raw.NotifyClose(make(chan *amqp.Error, 1)),
		registrations: make(map[string]*registration),
		codec:         codec,
		logger:        logger,
	}
}

// Pending returns the number of one-shot reply registrations still waiting
func (c *Channel) Pending() int {
	return c.pending
}

// subscribe installs reg and starts consuming its queue
func (c *Channel) subscribe(reg *registration) error {
	if c.closed {
		return rabbitmq.ErrChannelClosed
	}

	c.registrations[reg.consumerTag] = reg
	if reg.oneShot {
		c.pending++
	}

	err := c.inbox.Subscribe(c.raw, rabbitmq.ConsumerSpec{
		Queue:   reg.queue,
		Tag:     reg.consumerTag,
		AutoAck: reg.autoAck,
	})
	if err != nil {
		c.remove(reg)
		return err
	}
	return nil
}

// forget drops a registration whose request never went out
func (c *Channel) forget(consumerTag string) {
	reg, ok := c.registrations[consumerTag]
	if !ok {
		return
	}
	c.remove(reg)
	if err := c.raw.Cancel(consumerTag, false); err != nil {
		c.logger.Warn("failed to cancel consumer", "consumerTag", consumerTag, "error", err)
	}
}

func (c *Channel) remove(reg *registration) {
	if _, ok := c.registrations[reg.consumerTag]; !ok {
		return
	}
	delete(c.registrations, reg.consumerTag)
	if reg.oneShot {
		c.pending--
	}
}

// Wait blocks until one delivery has been processed, the timeout elapses
// (ErrWaitTimeout), ctx is done, or the broker closes the channel (its *amqp.Error).
func (c *Channel) Wait(ctx context.Context, timeout time.Duration) error {
	if c.closed {
		return rabbitmq.ErrChannelClosed
	}
	if timeout <= 0 {
		return ErrWaitTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-c.inbox.Deliveries():
		return c.dispatch(d)
	case amqpErr, ok := <-c.closeNotify:
		if ok && amqpErr != nil {
			return amqpErr
		}
		return rabbitmq.ErrChannelClosed
	case <-timer.C:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch hands a delivery to its registration. A reply whose correlation id
// does not match is left unacknowledged and the call keeps waiting.
func (c *Channel) dispatch(d amqp.Delivery) error {
	reg, ok := c.registrations[d.ConsumerTag]
	if !ok {
		c.logger.Debug("delivery for unknown consumer ignored",
			"consumerTag", d.ConsumerTag,
			"correlationId", d.CorrelationId)
		return nil
	}

	if reg.oneShot && d.CorrelationId != reg.correlationID {
		c.logger.Debug("reply with foreign correlation id ignored",
			"queue", reg.queue,
			"expected", reg.correlationID,
			"correlationId", d.CorrelationId)
		return nil
	}

	reg.onReply(contracts.NewReply(d.CorrelationId, d.ContentType, d.Body, c.codec))

	if !reg.autoAck {
		if err := c.raw.Ack(d.DeliveryTag, false); err != nil {
			return fmt.Errorf("failed to ack reply %s: %w", d.CorrelationId, err)
		}
	}

	if reg.oneShot {
		c.remove(reg)
		if err := c.raw.Cancel(reg.consumerTag, false); err != nil {
			return fmt.Errorf("failed to cancel consumer %s: %w", reg.consumerTag, err)
		}
	}
	return nil
}

// Close closes the broker channel, releasing its exclusive and auto-delete
// queues together with every registration. Only the first call reaches the broker.
// It returns once every consumer forwarder has stopped.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.inbox.Close()
		c.closeErr = c.raw.Close()
		c.inbox.Wait()
		c.registrations = make(map[string]*registration)
		c.pending = 0
	})
	return c.closeErr
}

func (c *Channel) closeQuietly() {
	if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Warn("failed to close channel", "error", err)
	}
}
