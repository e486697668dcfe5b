package contracts

import (
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultTTL is the message time-to-live used when none is given
const DefaultTTL = 24 * time.Hour

// Envelope is an outgoing message: encoded body plus broker metadata.
// Priority and TTL are carried verbatim; range checking is the caller's job.
type Envelope struct {
	Body          []byte
	ContentType   string
	Priority      Priority
	TTL           time.Duration
	Expires       bool // false leaves expiration unset
	Persistent    bool
	CorrelationID string
	ReplyTo       string
}

// Expiration returns the AMQP expiration property (TTL in milliseconds)
func (e Envelope) Expiration() string {
	if !e.Expires {
		return ""
	}
	return strconv.FormatInt(e.TTL.Milliseconds(), 10)
}

// Publishing converts the envelope to an AMQP publishing
func (e Envelope) Publishing() amqp.Publishing {
	mode := amqp.Transient
	if e.Persistent {
		mode = amqp.Persistent
	}
	return amqp.Publishing{
		ContentType:   e.ContentType,
		DeliveryMode:  mode,
		Priority:      uint8(e.Priority),
		Expiration:    e.Expiration(),
		CorrelationId: e.CorrelationID,
		ReplyTo:       e.ReplyTo,
		Body:          e.Body,
	}
}
