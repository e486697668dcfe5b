package messaging

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/glimte/rabbit-producer/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker is an in-memory stand-in for RabbitMQ. It remembers declared
// queues across channels, so redeclaring with other arguments fails the way
// the broker does.
type fakeBroker struct {
	mu       sync.Mutex
	channels []*fakeChannel
	queues   map[string]amqp.Table
	queueSeq int
	tagSeq   uint64

	openErr error
	// onPublish runs after every publish, outside the broker lock
	onPublish func(b *fakeBroker, pub publishCall)
	// tweak adjusts each channel right after it is opened
	tweak func(ch *fakeChannel)
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type queueCall struct {
	name       string
	durable    bool
	autoDelete bool
	exclusive  bool
	args       amqp.Table
}

type bindCall struct {
	queue    string
	key      string
	exchange string
}

type exchangeCall struct {
	name    string
	kind    string
	durable bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string]amqp.Table)}
}

func (b *fakeBroker) OpenChannel() (rabbitmq.Channel, error) {
	b.mu.Lock()
	if b.openErr != nil {
		err := b.openErr
		b.mu.Unlock()
		return nil, err
	}
	ch := &fakeChannel{
		broker:         b,
		consumers:      make(map[string]chan amqp.Delivery),
		consumerQueues: make(map[string]string),
	}
	b.channels = append(b.channels, ch)
	tweak := b.tweak
	b.mu.Unlock()

	if tweak != nil {
		tweak(ch)
	}
	return ch, nil
}

// deliver routes a message to the consumer of queue, reporting whether one exists
func (b *fakeBroker) deliver(queue, correlationID string, body []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.channels {
		for tag, q := range ch.consumerQueues {
			if q != queue {
				continue
			}
			b.tagSeq++
			ch.consumers[tag] <- amqp.Delivery{
				ConsumerTag:   tag,
				DeliveryTag:   b.tagSeq,
				CorrelationId: correlationID,
				ContentType:   "application/json",
				Body:          body,
			}
			return true
		}
	}
	return false
}

func (b *fakeBroker) allPublishes() []publishCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishCall
	for _, ch := range b.channels {
		out = append(out, ch.published...)
	}
	return out
}

func (b *fakeBroker) channel(i int) *fakeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channels[i]
}

func (b *fakeBroker) channelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// fakeChannel implements rabbitmq.Channel. All state is guarded by the broker lock.
type fakeChannel struct {
	broker *fakeBroker

	qos            []int
	exchanges      []exchangeCall
	queues         []queueCall
	passive        []string
	binds          []bindCall
	published      []publishCall
	consumers      map[string]chan amqp.Delivery
	consumerQueues map[string]string
	acks           []uint64
	cancels        []string
	notify         []chan *amqp.Error
	closeCount     int
	closed         bool

	qosErr      error
	exchangeErr error
	queueErr    error
	publishErr  error
	consumeErr  error
	ackErr      error
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.qos = append(c.qos, prefetchCount)
	return c.qosErr
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.exchanges = append(c.exchanges, exchangeCall{name: name, kind: kind, durable: durable})
	return c.exchangeErr
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	if c.queueErr != nil {
		return amqp.Queue{}, c.queueErr
	}
	if name == "" {
		c.broker.queueSeq++
		name = fmt.Sprintf("amq.gen-%d", c.broker.queueSeq)
	}
	c.queues = append(c.queues, queueCall{name: name, durable: durable, autoDelete: autoDelete, exclusive: exclusive, args: args})

	if existing, ok := c.broker.queues[name]; ok && !reflect.DeepEqual(existing, args) {
		// the broker closes the channel on a failed declare
		c.shutdown()
		return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg"}
	}
	c.broker.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.passive = append(c.passive, name)
	if _, ok := c.broker.queues[name]; !ok {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue"}
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.binds = append(c.binds, bindCall{queue: name, key: key, exchange: exchange})
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.broker.mu.Lock()
	if c.publishErr != nil {
		err := c.publishErr
		c.broker.mu.Unlock()
		return err
	}
	pub := publishCall{exchange: exchange, key: key, msg: msg}
	c.published = append(c.published, pub)
	hook := c.broker.onPublish
	c.broker.mu.Unlock()

	if hook != nil {
		hook(c.broker, pub)
	}
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	deliveries := make(chan amqp.Delivery, 16)
	c.consumers[consumer] = deliveries
	c.consumerQueues[consumer] = queue
	return deliveries, nil
}

func (c *fakeChannel) Ack(tag uint64, multiple bool) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.acks = append(c.acks, tag)
	return c.ackErr
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.cancels = append(c.cancels, consumer)
	if deliveries, ok := c.consumers[consumer]; ok {
		close(deliveries)
		delete(c.consumers, consumer)
		delete(c.consumerQueues, consumer)
	}
	return nil
}

func (c *fakeChannel) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.notify = append(c.notify, ch)
	return ch
}

func (c *fakeChannel) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.closeCount++
	if c.closed {
		return amqp.ErrClosed
	}
	c.shutdown()
	return nil
}

func (c *fakeChannel) shutdown() {
	c.closed = true
	for tag, deliveries := range c.consumers {
		close(deliveries)
		delete(c.consumers, tag)
		delete(c.consumerQueues, tag)
	}
	for _, n := range c.notify {
		close(n)
	}
	c.notify = nil
}

// fail simulates the broker closing the channel with err
func (c *fakeChannel) fail(err *amqp.Error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for _, n := range c.notify {
		n <- err
	}
}

func (c *fakeChannel) closes() int {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closeCount
}

func (c *fakeChannel) ackedTags() []uint64 {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return append([]uint64(nil), c.acks...)
}

func (c *fakeChannel) consumerCount() int {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return len(c.consumers)
}

// replyTo answers every request with the given body, echoing its correlation id
func replyTo(body string) func(b *fakeBroker, pub publishCall) {
	return func(b *fakeBroker, pub publishCall) {
		if pub.msg.ReplyTo != "" {
			b.deliver(pub.msg.ReplyTo, pub.msg.CorrelationId, []byte(body))
		}
	}
}

// sequentialIDs returns an id generator producing prefix1, prefix2, ...
func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}
