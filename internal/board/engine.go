package board

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"studio-board/internal/models"
)

const defaultWriteTimeout = 10 * time.Second

// Persister writes a partial field set onto one ticket.
type Persister interface {
	UpdateTicket(ctx context.Context, projectID, ticketID string, fields map[string]any) error
}

// ChangeFunc receives the engine's ticket list after each change. optimistic
// is true when the state comes from a local move rather than a store snapshot.
type ChangeFunc func(tickets []models.Ticket, optimistic bool)

// WriteFunc is told the outcome of each move's persistence write.
type WriteFunc func(move Move, err error, elapsed time.Duration)

type Option func(*Engine)

// WithWriteTimeout bounds each persistence write.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

// WithWriteObserver registers a callback for write outcomes.
func WithWriteObserver(fn WriteFunc) Option {
	return func(e *Engine) { e.onWrite = fn }
}

// Engine holds the optimistic ticket list of one project board.
//
// Moves are applied to the local list synchronously and in call order; the
// matching write for the dragged ticket runs in the background and is never
// rolled back. Store snapshots replace the list wholesale.
type Engine struct {
	projectID    string
	persister    Persister
	logger       arbor.ILogger
	writeTimeout time.Duration
	onWrite      WriteFunc

	mu        sync.Mutex
	tickets   []models.Ticket
	observers []ChangeFunc

	writes sync.WaitGroup
}

func NewEngine(projectID string, persister Persister, logger arbor.ILogger, opts ...Option) *Engine {
	e := &Engine{
		projectID:    projectID,
		persister:    persister,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ProjectID() string {
	return e.projectID
}

// OnChange registers fn for every later state change. fn runs with the
// engine locked and must not call back into the engine.
func (e *Engine) OnChange(fn ChangeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Tickets returns a copy of the current list.
func (e *Engine) Tickets() []models.Ticket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Ticket(nil), e.tickets...)
}

// ApplySnapshot replaces the list with a full result set from the store.
func (e *Engine) ApplySnapshot(tickets []models.Ticket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickets = append([]models.Ticket(nil), tickets...)
	e.notify(false)
}

// Move applies m to the local list and starts the write for the dragged
// ticket. The returned result reflects the optimistic state; write failures
// are only logged.
func (e *Engine) Move(ctx context.Context, m Move) (Result, error) {
	e.mu.Lock()
	result, err := Reorder(e.tickets, m)
	if err != nil || !result.Changed {
		if err == nil {
			result.Tickets = append([]models.Ticket(nil), e.tickets...)
		}
		e.mu.Unlock()
		return result, err
	}
	e.tickets = result.Tickets
	result.Tickets = append([]models.Ticket(nil), e.tickets...)
	e.notify(true)
	e.mu.Unlock()

	e.persist(context.WithoutCancel(ctx), m, result)
	return result, nil
}

// Wait blocks until every started write has finished.
func (e *Engine) Wait() {
	e.writes.Wait()
}

func (e *Engine) notify(optimistic bool) {
	if len(e.observers) == 0 {
		return
	}
	snapshot := append([]models.Ticket(nil), e.tickets...)
	for _, fn := range e.observers {
		fn(snapshot, optimistic)
	}
}

func (e *Engine) persist(ctx context.Context, m Move, result Result) {
	fields := result.Fields()
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()

		ctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
		defer cancel()

		start := time.Now()
		err := e.persister.UpdateTicket(ctx, e.projectID, m.TicketID, fields)
		elapsed := time.Since(start)

		if err != nil {
			e.logger.Warn().Err(err).
				Str("project", e.projectID).
				Str("ticket", m.TicketID).
				Str("dest", m.Dest.String()).
				Msg("Board move write failed; keeping optimistic state")
		} else {
			e.logger.Debug().
				Str("project", e.projectID).
				Str("ticket", m.TicketID).
				Str("dest", m.Dest.String()).
				Int("order", result.Moved.Order).
				Msg("Board move persisted")
		}

		if e.onWrite != nil {
			e.onWrite(m, err, elapsed)
		}
	}()
}
