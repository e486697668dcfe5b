package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/rabbit-producer/internal/rabbitmq"
)

// BrokerChecker verifies that a channel can be opened on the connection
type BrokerChecker struct {
	opener rabbitmq.ChannelOpener
}

// NewBrokerChecker creates a new broker health checker
func NewBrokerChecker(opener rabbitmq.ChannelOpener) *BrokerChecker {
	return &BrokerChecker{opener: opener}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	ch, err := c.opener.OpenChannel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	ch.Close()

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// QueueChecker checks that a queue exists and is not backing up
type QueueChecker struct {
	queueName        string
	opener           rabbitmq.ChannelOpener
	backlogThreshold int
}

// NewQueueChecker creates a queue checker. A backlog above threshold degrades
// the result; zero disables the backlog check.
func NewQueueChecker(queueName string, opener rabbitmq.ChannelOpener, threshold int) *QueueChecker {
	return &QueueChecker{
		queueName:        queueName,
		opener:           opener,
		backlogThreshold: threshold,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	ch, err := c.opener.OpenChannel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	queue, err := rabbitmq.InspectQueue(ch, c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	result.Duration = time.Since(start)
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	if c.backlogThreshold > 0 && queue.Messages > c.backlogThreshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has high message count", c.queueName)
	}
	return result
}
