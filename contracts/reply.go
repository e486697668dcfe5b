package contracts

import "fmt"

// BodyDecoder decodes an encoded message body
type BodyDecoder interface {
	Decode(data []byte, v any) error
}

// Reply is a delivery matched to an outstanding request
type Reply struct {
	CorrelationID string
	ContentType   string
	Body          []byte
	decoder       BodyDecoder
}

// NewReply creates a reply decoded with dec
func NewReply(correlationID, contentType string, body []byte, dec BodyDecoder) Reply {
	return Reply{
		CorrelationID: correlationID,
		ContentType:   contentType,
		Body:          body,
		decoder:       dec,
	}
}

// Decode decodes the reply body into v
func (r Reply) Decode(v any) error {
	if r.decoder == nil {
		return fmt.Errorf("reply %s has no decoder", r.CorrelationID)
	}
	if err := r.decoder.Decode(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode reply %s: %w", r.CorrelationID, err)
	}
	return nil
}
