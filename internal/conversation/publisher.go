package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Publisher enqueues chat turns for the conversation workers.
type Publisher struct {
	queue  Queue
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher builds a publisher. jobs may be nil to disable status tracking.
func NewPublisher(queue Queue, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, jobs: jobs, logger: logger}
}

// EnqueueTurn publishes turn and returns its job id.
func (p *Publisher) EnqueueTurn(ctx context.Context, turn Turn, opts ...PublishOption) (string, error) {
	payload := queuePayload{Turn: turn, TrackStatus: p.jobs != nil}
	for _, opt := range opts {
		opt(&payload)
	}
	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if payload.TrackStatus && p.jobs != nil {
		job := &JobRecord{
			JobID:    payload.ID,
			Channel:  string(turn.Channel),
			Address:  turn.Address,
			ClinicID: turn.ClinicID,
		}
		if err := p.jobs.PutPending(ctx, job); err != nil {
			return "", err
		}
	}

	if err := p.queue.Send(ctx, body, turn.Address); err != nil {
		return "", fmt.Errorf("conversation: enqueue turn: %w", err)
	}
	p.logger.Debug("conversation turn enqueued", "job_id", payload.ID, "channel", turn.Channel)
	return payload.ID, nil
}
