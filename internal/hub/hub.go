// Package hub serializes inbound envelopes per class.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"classhub/pkg/types"
)

// DefaultQueueSize is the per-class command buffer.
const DefaultQueueSize = 256

// Dispatcher applies one envelope. *router.Router satisfies it.
type Dispatcher interface {
	Route(ctx context.Context, sender types.ParticipantInfo, env *types.Envelope) error
}

// Hub owns one command queue and one worker goroutine per active class.
// ARCHITECTURAL DISCOVERY: a single worker per class makes every state change
// for that class happen in arrival order, while different classes run in parallel
type Hub struct {
	dispatcher Dispatcher
	queueSize  int
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	queues  map[string]*classQueue
	workers sync.WaitGroup
}

type command struct {
	sender types.ParticipantInfo
	env    *types.Envelope
}

type classQueue struct {
	commands chan command
	quit     chan struct{}
}

// NewHub creates a stopped hub. queueSize <= 0 selects DefaultQueueSize.
func NewHub(dispatcher Dispatcher, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		dispatcher: dispatcher,
		queueSize:  queueSize,
		logger:     logger,
		queues:     make(map[string]*classQueue),
	}
}

// Start lets the hub accept commands until ctx is done or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running = true
	h.logger.Info("hub started", "queue_size", h.queueSize)
	return nil
}

// Stop cancels every class worker and waits for them to exit. Queued
// commands that were not yet dispatched are dropped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()
	h.queues = make(map[string]*classQueue)
	h.mu.Unlock()

	h.workers.Wait()
	h.logger.Info("hub stopped")
	return nil
}

// Submit enqueues env for sender's class without blocking.
func (h *Hub) Submit(sender types.ParticipantInfo, env *types.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}

	q, ok := h.queues[sender.ClassID]
	if !ok {
		q = &classQueue{
			commands: make(chan command, h.queueSize),
			quit:     make(chan struct{}),
		}
		h.queues[sender.ClassID] = q
		h.workers.Add(1)
		go h.work(h.ctx, sender.ClassID, q)
	}

	select {
	case q.commands <- command{sender: sender, env: env}:
		return nil
	default:
		return fmt.Errorf("%w: class %s", ErrQueueFull, sender.ClassID)
	}
}

// Forget stops the worker for classID. Called once the class is reclaimed.
func (h *Hub) Forget(classID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.queues[classID]; ok {
		close(q.quit)
		delete(h.queues, classID)
	}
}

// ActiveQueues reports how many classes currently have a worker.
func (h *Hub) ActiveQueues() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}

func (h *Hub) work(ctx context.Context, classID string, q *classQueue) {
	defer h.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		case cmd := <-q.commands:
			h.dispatch(ctx, classID, cmd)
		}
	}
}

// dispatch runs one command. A panic is contained to the command that caused it.
func (h *Hub) dispatch(ctx context.Context, classID string, cmd command) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("dispatch panicked",
				"class_id", classID, "connection_id", cmd.sender.ConnectionID,
				"kind", cmd.env.Kind, "panic", rec)
		}
	}()
	if err := h.dispatcher.Route(ctx, cmd.sender, cmd.env); err != nil {
		h.logger.Debug("envelope not applied",
			"class_id", classID, "connection_id", cmd.sender.ConnectionID,
			"kind", cmd.env.Kind, "error", err)
	}
}
