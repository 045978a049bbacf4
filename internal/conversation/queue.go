package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Queue carries encoded chat turns from the publisher to the workers.
// groupID is the conversation address; queues that support ordered groups
// keep messages of one group in send order.
type Queue interface {
	Send(ctx context.Context, body, groupID string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// queuePayload is the wire form of one queued chat turn.
type queuePayload struct {
	ID          string `json:"id"`
	Turn        Turn   `json:"turn"`
	TrackStatus bool   `json:"track_status"`
}

type PublishOption func(*queuePayload)

// WithoutJobTracking skips the job status record for this turn.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) {
		p.TrackStatus = false
	}
}

// WithJobID sets the job id instead of generating one.
func WithJobID(id string) PublishOption {
	return func(p *queuePayload) {
		if id != "" {
			p.ID = id
		}
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: encode payload: %w", err)
	}
	return payload, string(body), nil
}
