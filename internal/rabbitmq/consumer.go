package rabbitmq

import (
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConsumerSpec describes a consumer registration
type ConsumerSpec struct {
	Queue     string
	Tag       string
	AutoAck   bool
	Exclusive bool
}

// Inbox merges the delivery streams of several consumers on one channel
// into a single stream read by one wait loop.
type Inbox struct {
	deliveries chan amqp.Delivery
	done       chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

// NewInbox creates an inbox. The buffer only smooths bursts; delivery
// back-pressure still comes from the channel's prefetch limit.
func NewInbox(buffer int) *Inbox {
	return &Inbox{
		deliveries: make(chan amqp.Delivery, buffer),
		done:       make(chan struct{}),
	}
}

// Deliveries returns the merged stream
func (in *Inbox) Deliveries() <-chan amqp.Delivery {
	return in.deliveries
}

// Subscribe starts consuming spec.Queue on ch and forwards its deliveries into the inbox.
// Forwarding stops when the broker closes the consumer's stream or the inbox is closed.
func (in *Inbox) Subscribe(ch Channel, spec ConsumerSpec) error {
	deliveries, err := ch.Consume(
		spec.Queue,
		spec.Tag,
		spec.AutoAck,
		spec.Exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ConsumerError{
			Queue:       spec.Queue,
			ConsumerTag: spec.Tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	in.wg.Add(1)
	go in.forward(deliveries)
	return nil
}

func (in *Inbox) forward(deliveries <-chan amqp.Delivery) {
	defer in.wg.Done()
	for d := range deliveries {
		select {
		case in.deliveries <- d:
		case <-in.done:
			return
		}
	}
}

// Close stops all forwarders. Deliveries still buffered are dropped unacked,
// so the broker requeues them once the channel closes.
func (in *Inbox) Close() {
	in.once.Do(func() {
		close(in.done)
	})
}

// Wait blocks until every forwarder has exited
func (in *Inbox) Wait() {
	in.wg.Wait()
}
