// Package jobs runs background work off the request path. Submissions go
// through an in-process watermill pub/sub and every submission gets its own
// completion channel, so callers can observe the outcome or ignore it.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// TopicIndexSections carries requests to (re)index a content item's sections.
const TopicIndexSections = "content.index_sections"

var (
	ErrNotStarted = errors.New("job queue not started")
	ErrClosed     = errors.New("job queue closed")
)

// IndexRequest is the payload published on TopicIndexSections.
type IndexRequest struct {
	ContentID string `json:"contentId"`
}

// IndexFunc processes one index request.
type IndexFunc func(ctx context.Context, contentID string) error

// Queue is a single-topic background worker.
type Queue struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	pending map[string]chan error
	wg      sync.WaitGroup
}

// NewQueue builds a queue with an output buffer of buffer messages.
func NewQueue(log zerolog.Logger, buffer int) *Queue {
	if buffer < 0 {
		buffer = 0
	}
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: int64(buffer)}, NewLogger(log))
	return &Queue{
		pubsub:  ps,
		log:     log,
		pending: make(map[string]chan error),
	}
}

// Start subscribes handle to TopicIndexSections. ctx bounds the worker's
// lifetime and is passed to every handler call.
func (q *Queue) Start(ctx context.Context, handle IndexFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return errors.New("job queue already started")
	}
	msgs, err := q.pubsub.Subscribe(ctx, TopicIndexSections)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicIndexSections, err)
	}
	q.started = true
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for msg := range msgs {
			q.process(ctx, msg, handle)
		}
	}()
	return nil
}

func (q *Queue) process(ctx context.Context, msg *message.Message, handle IndexFunc) {
	var req IndexRequest
	err := json.Unmarshal(msg.Payload, &req)
	if err != nil {
		err = fmt.Errorf("decode index request: %w", err)
	} else {
		err = handle(q.log.With().Str("content_id", req.ContentID).Logger().WithContext(ctx), req.ContentID)
	}
	if err != nil {
		q.log.Warn().Err(err).Str("message_id", msg.UUID).Str("content_id", req.ContentID).Msg("index job failed")
	} else {
		q.log.Debug().Str("message_id", msg.UUID).Str("content_id", req.ContentID).Msg("index job done")
	}
	// Failures are reported on the completion channel; redelivery would
	// only repeat them.
	msg.Ack()
	q.finish(msg.UUID, err)
}

func (q *Queue) finish(id string, err error) {
	q.mu.Lock()
	done, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()
	if ok {
		done <- err
		close(done)
	}
}

// SubmitIndex enqueues an index job for contentID. The returned channel
// receives exactly one value (nil on success) when the job finishes.
func (q *Queue) SubmitIndex(ctx context.Context, contentID string) (<-chan error, error) {
	payload, err := json.Marshal(IndexRequest{ContentID: contentID})
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	done := make(chan error, 1)
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return nil, ErrClosed
	case !q.started:
		q.mu.Unlock()
		return nil, ErrNotStarted
	}
	q.pending[msg.UUID] = done
	q.mu.Unlock()

	if err := q.pubsub.Publish(TopicIndexSections, msg); err != nil {
		q.mu.Lock()
		delete(q.pending, msg.UUID)
		q.mu.Unlock()
		return nil, fmt.Errorf("publish index job: %w", err)
	}
	return done, nil
}

// Close stops accepting work and waits for the worker to drain. Jobs that
// never ran complete with ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	err := q.pubsub.Close()
	q.wg.Wait()

	q.mu.Lock()
	for id, done := range q.pending {
		done <- ErrClosed
		close(done)
		delete(q.pending, id)
	}
	q.mu.Unlock()
	return err
}
