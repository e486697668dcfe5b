package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"low", PriorityLow},
		{"0", PriorityLow},
		{"", PriorityNormal},
		{"Normal", PriorityNormal},
		{" high ", PriorityHigh},
		{"2", PriorityHigh},
		{"MAX", PriorityMax},
		{"3", PriorityMax},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)
	_, err = ParsePriority("4")
	assert.Error(t, err)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "max", PriorityMax.String())
	assert.Equal(t, "priority(9)", Priority(9).String())
}

func TestEnvelopePublishing(t *testing.T) {
	env := Envelope{
		Body:          []byte(`{}`),
		ContentType:   "application/json",
		Priority:      PriorityHigh,
		TTL:           2500 * time.Millisecond,
		Expires:       true,
		Persistent:    true,
		CorrelationID: "c-1",
		ReplyTo:       "amq.gen-1",
	}

	pub := env.Publishing()
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, uint8(2), pub.Priority)
	assert.Equal(t, "2500", pub.Expiration)
	assert.Equal(t, "c-1", pub.CorrelationId)
	assert.Equal(t, "amq.gen-1", pub.ReplyTo)
	assert.Equal(t, "application/json", pub.ContentType)

	env.Expires = false
	env.Persistent = false
	pub = env.Publishing()
	assert.Empty(t, pub.Expiration)
	assert.Equal(t, amqp.Transient, pub.DeliveryMode)
}

type jsonDecoder struct{}

func (jsonDecoder) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }

func TestReplyDecode(t *testing.T) {
	var out struct{ OK bool }
	require.NoError(t, NewReply("r", "application/json", []byte(`{"OK":true}`), jsonDecoder{}).Decode(&out))
	assert.True(t, out.OK)

	err := NewReply("r", "application/json", []byte(`{`), jsonDecoder{}).Decode(&out)
	assert.ErrorContains(t, err, "failed to decode reply r")

	assert.Error(t, Reply{CorrelationID: "bare"}.Decode(&out))
}

func TestTimeoutError(t *testing.T) {
	single := &TimeoutError{TTL: 3 * time.Second}
	assert.True(t, errors.Is(single, ErrTimeout))
	assert.Equal(t, "rpc timeout: call exceeded 3s", single.Error())

	batched := fmt.Errorf("drain: %w", &TimeoutError{TTL: time.Second, Outstanding: 2, Batched: true})
	assert.ErrorIs(t, batched, ErrTimeout)
	assert.Contains(t, batched.Error(), "2 outstanding")
}
