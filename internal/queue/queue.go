package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"immoledger/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// EventQueue fans committed ledger events out to display collaborators.
// Events are notifications only; the database stays the source of truth,
// so a full queue drops instead of blocking a payment path.
type EventQueue struct {
	items    chan models.LedgerEvent
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func(models.LedgerEvent) error
}

// NewEventQueue creates a queue buffering up to bufferSize events
func NewEventQueue(bufferSize int, logger *logrus.Logger) *EventQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventQueue{
		items:    make(chan models.LedgerEvent, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func(models.LedgerEvent) error, 0),
	}
}

// Push enqueues an event without blocking
func (q *EventQueue) Push(event models.LedgerEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- event:
		q.logger.WithField("kind", event.Kind).Debug("Pushed ledger event")
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish pushes and logs instead of returning an error. Safe on a nil queue.
func (q *EventQueue) Publish(event models.LedgerEvent) {
	if q == nil {
		return
	}
	if err := q.Push(event); err != nil {
		q.logger.WithError(err).WithFields(logrus.Fields{
			"kind":           event.Kind,
			"transaction_id": event.TransactionID,
			"installment_id": event.InstallmentID,
		}).Warn("Dropped ledger event")
	}
}

// Subscribe adds a handler called for each event
func (q *EventQueue) Subscribe(handler func(models.LedgerEvent) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins dispatching events
func (q *EventQueue) Start() {
	go q.process()
}

func (q *EventQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case event := <-q.items:
			q.dispatch(event)
		}
	}
}

func (q *EventQueue) dispatch(event models.LedgerEvent) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			q.logger.WithError(err).WithField("kind", event.Kind).Error("Handler failed to process event")
		}
	}
}

// Close stops dispatching and rejects further pushes
func (q *EventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	return nil
}

// Len returns the number of buffered events
func (q *EventQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *EventQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
