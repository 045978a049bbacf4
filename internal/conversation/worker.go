package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// TurnHandler runs one conversation turn. *Engine implements it.
type TurnHandler interface {
	Handle(ctx context.Context, turn Turn) (Reply, error)
}

// ReplySender delivers a reply on one channel.
type ReplySender interface {
	SendReply(ctx context.Context, address string, reply Reply) error
}

type processedEventStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Worker consumes queued chat turns, runs the engine and delivers the reply.
type Worker struct {
	handler   TurnHandler
	queue     Queue
	jobs      JobUpdater
	senders   map[session.Channel]ReplySender
	processed processedEventStore
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	senders          map[session.Channel]ReplySender
	processed        processedEventStore
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum of 20.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithReplySender registers the sender for channel.
func WithReplySender(channel session.Channel, sender ReplySender) WorkerOption {
	return func(cfg *workerConfig) {
		if sender != nil {
			cfg.senders[channel] = sender
		}
	}
}

// WithProcessedEventsStore drops provider messages that were already handled.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

func NewWorker(handler TurnHandler, queue Queue, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: turn handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		senders:          make(map[session.Channel]ReplySender),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		handler:   handler,
		queue:     queue,
		jobs:      jobs,
		senders:   cfg.senders,
		processed: cfg.processed,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches one receive loop and cfg.workers turn processors. Turns are
// sharded by address so one conversation is handled by a single processor in
// arrival order. Everything stops when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	shards := make([]chan queuedTurn, w.cfg.workers)
	for i := range shards {
		shards[i] = make(chan queuedTurn, w.cfg.receiveBatchSize)
		w.wg.Add(1)
		go w.process(ctx, i+1, shards[i])
	}
	w.wg.Add(1)
	go w.receive(ctx, shards)
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

type queuedTurn struct {
	msg     queueMessage
	payload queuePayload
}

func (w *Worker) receive(ctx context.Context, shards []chan queuedTurn) {
	defer w.wg.Done()
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation turns", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			var payload queuePayload
			if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
				w.logger.Error("failed to decode conversation turn", "error", err, "msg_id", msg.ID)
				w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)
				continue
			}
			shard := shards[shardFor(payload.Turn.Address, len(shards))]
			select {
			case shard <- queuedTurn{msg: msg, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, workerID int, turns <-chan queuedTurn) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		case qt, ok := <-turns:
			if !ok {
				return
			}
			w.handleTurn(ctx, qt.msg, qt.payload)
		}
	}
}

func shardFor(address string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return int(h.Sum32() % uint32(shards))
}

// handleTurn deletes the message whether or not the turn succeeds.
func (w *Worker) handleTurn(ctx context.Context, msg queueMessage, payload queuePayload) {
	defer w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)
	turn := payload.Turn

	if w.processed != nil && turn.MessageID != "" {
		fresh, err := w.processed.MarkProcessed(ctx, string(turn.Channel), turn.MessageID)
		if err != nil {
			w.logger.Warn("processed-event check failed, handling anyway", "message_id", turn.MessageID, "error", err)
		} else if !fresh {
			w.logger.Info("skipping duplicate provider message", "message_id", turn.MessageID)
			return
		}
	}

	reply, turnErr := w.handler.Handle(ctx, turn)
	sendErr := w.send(ctx, turn, reply)

	if !payload.TrackStatus || w.jobs == nil {
		return
	}
	var statusErr error
	switch {
	case turnErr != nil:
		statusErr = w.jobs.MarkFailed(ctx, payload.ID, turnErr.Error())
	case sendErr != nil:
		statusErr = w.jobs.MarkFailed(ctx, payload.ID, sendErr.Error())
	default:
		statusErr = w.jobs.MarkCompleted(ctx, payload.ID, &reply)
	}
	if statusErr != nil {
		w.logger.Error("failed to update job status", "job_id", payload.ID, "error", statusErr)
	}
}

func (w *Worker) send(ctx context.Context, turn Turn, reply Reply) error {
	if len(reply.Prompts) == 0 {
		return nil
	}
	sender, ok := w.senders[turn.Channel]
	if !ok {
		w.logger.Warn("no reply sender for channel", "channel", turn.Channel, "address", turn.Address)
		return nil
	}
	if err := sender.SendReply(ctx, turn.Address, reply); err != nil {
		w.logger.Error("failed to deliver reply", "channel", turn.Channel, "address", turn.Address, "error", err)
		return err
	}
	return nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation turn", "error", err)
	}
}
