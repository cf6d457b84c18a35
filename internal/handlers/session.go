package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/middleware"
	"studio-board/internal/models"
	"studio-board/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20

	// Messages queued for a slow peer before the session is dropped
	sendBuffer = 64
)

type MessageType string

const (
	MessageSubscribe   MessageType = "subscribe"
	MessageUnsubscribe MessageType = "unsubscribe"
	MessageMove        MessageType = "move"
	MessagePing        MessageType = "ping"

	MessageSnapshot MessageType = "snapshot"
	MessageError    MessageType = "error"
	MessagePong     MessageType = "pong"
	MessageStatus   MessageType = "status"
)

// Subscription targets.
const (
	TargetTickets = "tickets"
	TargetProject = "project"
	TargetClients = "clients"
)

// ClientMessage is a request from the browser. ID names the subscription a
// message refers to.
type ClientMessage struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Target    string      `json:"target,omitempty"`
	ProjectID string      `json:"projectId,omitempty"`
	Archived  bool        `json:"archived,omitempty"`
	Move      *board.Move `json:"move,omitempty"`
}

// ServerMessage is pushed to the browser. Snapshots always carry the full
// current data of the subscription; a project snapshot without data means
// the project was deleted.
type ServerMessage struct {
	Type       MessageType       `json:"type"`
	ID         string            `json:"id,omitempty"`
	Target     string            `json:"target,omitempty"`
	Data       any               `json:"data,omitempty"`
	Optimistic bool              `json:"optimistic,omitempty"`
	Status     string            `json:"status,omitempty"`
	Error      *common.ErrorBody `json:"error,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

type boardSubscription struct {
	target      string
	unsubscribe func()
	// engine is set for active-ticket subscriptions, the only ones that
	// accept moves.
	engine *board.Engine
}

// Session is one websocket connection. Every active-ticket subscription
// owns a board engine fed by the store's live snapshots.
type Session struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	user middleware.User

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// subscriptions is only touched by readPump.
	subscriptions map[string]*boardSubscription
}

func newSession(hub *WebSocketHub, conn *websocket.Conn, user middleware.User) *Session {
	return &Session{
		hub:           hub,
		conn:          conn,
		user:          user,
		outbox:        make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		subscriptions: make(map[string]*boardSubscription),
	}
}

// send queues msg without blocking. A peer that stops reading is
// disconnected.
func (s *Session) send(msg ServerMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	data := marshalMessage(msg)

	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.outbox <- data:
	case <-s.done:
	default:
		s.hub.logger.Warn().Str("user", s.user.Email).Msg("WebSocket send buffer full, closing session")
		s.close()
	}
}

func (s *Session) sendError(id string, err error) {
	_, body := common.NewErrorResponse(err)
	s.send(ServerMessage{Type: MessageError, ID: id, Error: &body.Error})
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump is the only writer on the connection
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump handles requests until the connection fails, then releases every
// subscription
func (s *Session) readPump() {
	defer func() {
		s.close()
		for id, sub := range s.subscriptions {
			sub.unsubscribe()
			delete(s.subscriptions, id)
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn().Err(err).Str("user", s.user.Email).Msg("WebSocket read failed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("", common.NewValidationError("INVALID_MESSAGE", "message is not valid JSON"))
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case MessagePing:
		s.send(ServerMessage{Type: MessagePong})
	case MessageSubscribe:
		if err := s.subscribe(msg); err != nil {
			s.sendError(msg.ID, err)
		}
	case MessageUnsubscribe:
		sub, ok := s.subscriptions[msg.ID]
		if !ok {
			s.sendError(msg.ID, common.NewNotFoundError("SUBSCRIPTION_NOT_FOUND", "no such subscription"))
			return
		}
		sub.unsubscribe()
		delete(s.subscriptions, msg.ID)
	case MessageMove:
		if err := s.move(msg); err != nil {
			s.sendError(msg.ID, err)
		}
	default:
		s.sendError(msg.ID, common.NewValidationError("UNKNOWN_MESSAGE", "unknown message type "+string(msg.Type)))
	}
}

// subscribe starts a live subscription. Reusing an id replaces the previous
// subscription.
func (s *Session) subscribe(msg ClientMessage) error {
	if msg.ID == "" {
		return common.NewValidationError("MISSING_ID", "subscription id is required")
	}

	var (
		sub *boardSubscription
		err error
	)
	switch msg.Target {
	case TargetTickets:
		sub, err = s.subscribeTickets(msg)
	case TargetProject:
		sub, err = s.subscribeProject(msg)
	case TargetClients:
		sub = s.subscribeClients(msg)
	default:
		err = common.NewValidationError("UNKNOWN_TARGET", "unknown subscription target "+msg.Target)
	}
	if err != nil {
		return err
	}

	if old, ok := s.subscriptions[msg.ID]; ok {
		old.unsubscribe()
	}
	s.subscriptions[msg.ID] = sub
	return nil
}

func (s *Session) onError(id string) interfaces.ErrorFunc {
	return func(err error) {
		s.hub.logger.Warn().Err(err).Str("subscription", id).Msg("Subscription failed")
		s.sendError(id, err)
	}
}

// subscribeTickets follows a project's tickets. Active tickets flow through
// a board engine so moves are reflected immediately and then overwritten by
// the next store snapshot.
func (s *Session) subscribeTickets(msg ClientMessage) (*boardSubscription, error) {
	if err := services.RequireID("project", msg.ProjectID); err != nil {
		return nil, err
	}
	store := s.hub.repo.Store()
	logger := s.hub.logger
	query := services.TicketsQuery(msg.ProjectID, msg.Archived)

	if msg.Archived {
		unsubscribe := store.Subscribe(query, func(docs []interfaces.Document) {
			s.send(ServerMessage{Type: MessageSnapshot, ID: msg.ID, Target: TargetTickets, Data: services.DecodeTickets(docs, logger)})
		}, s.onError(msg.ID))
		return &boardSubscription{target: TargetTickets, unsubscribe: unsubscribe}, nil
	}

	engine := newBoardEngine(s.hub.config, s.hub.repo, s.hub.metrics, logger, msg.ProjectID)
	engine.OnChange(func(tickets []models.Ticket, optimistic bool) {
		s.send(ServerMessage{Type: MessageSnapshot, ID: msg.ID, Target: TargetTickets, Data: tickets, Optimistic: optimistic})
	})
	unsubscribe := store.Subscribe(query, func(docs []interfaces.Document) {
		engine.ApplySnapshot(services.DecodeTickets(docs, logger))
	}, s.onError(msg.ID))

	return &boardSubscription{target: TargetTickets, unsubscribe: unsubscribe, engine: engine}, nil
}

// subscribeProject follows one project with its resolved board layout.
func (s *Session) subscribeProject(msg ClientMessage) (*boardSubscription, error) {
	if err := services.RequireID("project", msg.ProjectID); err != nil {
		return nil, err
	}
	unsubscribe := s.hub.repo.Store().SubscribeDocument(services.ProjectRef(msg.ProjectID), func(doc *interfaces.Document) {
		if doc == nil {
			s.send(ServerMessage{Type: MessageSnapshot, ID: msg.ID, Target: TargetProject})
			return
		}
		project, err := services.Decode[models.Project](*doc)
		if err != nil {
			s.sendError(msg.ID, err)
			return
		}
		layout, _ := s.hub.resolver.Resolve(context.Background(), project)
		project.Statuses = layout.Statuses
		project.Swimlanes = layout.Swimlanes
		s.send(ServerMessage{Type: MessageSnapshot, ID: msg.ID, Target: TargetProject, Data: ProjectResponse{Project: &project, LayoutDefaulted: layout.Defaulted}})
	}, s.onError(msg.ID))
	return &boardSubscription{target: TargetProject, unsubscribe: unsubscribe}, nil
}

func (s *Session) subscribeClients(msg ClientMessage) *boardSubscription {
	logger := s.hub.logger
	unsubscribe := s.hub.repo.Store().Subscribe(services.ClientsQuery(msg.Archived), func(docs []interfaces.Document) {
		s.send(ServerMessage{Type: MessageSnapshot, ID: msg.ID, Target: TargetClients, Data: services.DecodeAll[models.Client](docs, logger)})
	}, s.onError(msg.ID))
	return &boardSubscription{target: TargetClients, unsubscribe: unsubscribe}
}

// move applies a drag on the subscription's board. The optimistic snapshot
// is pushed by the engine; the write runs detached from the session.
func (s *Session) move(msg ClientMessage) error {
	sub, ok := s.subscriptions[msg.ID]
	if !ok {
		return common.NewNotFoundError("SUBSCRIPTION_NOT_FOUND", "no such subscription")
	}
	if sub.engine == nil {
		return common.NewValidationError("NOT_A_BOARD", "moves need an active tickets subscription")
	}
	if msg.Move == nil || msg.Move.TicketID == "" {
		return common.NewValidationError("MISSING_TICKET", "move.ticketId is required")
	}

	_, err := sub.engine.Move(context.Background(), *msg.Move)
	if errors.Is(err, board.ErrTicketNotFound) {
		return common.NewNotFoundError("TICKET_NOT_FOUND", "ticket is not on this board").WithContext("ticket", msg.Move.TicketID)
	}
	return err
}

// newBoardEngine builds a board engine writing through the repository and
// recording write outcomes in metrics.
func newBoardEngine(config *common.Config, repo *services.Repository, metrics *services.Metrics, logger arbor.ILogger, projectID string) *board.Engine {
	return board.NewEngine(projectID, repo, logger,
		board.WithWriteTimeout(time.Duration(config.Board.WriteTimeoutSeconds)*time.Second),
		board.WithWriteObserver(func(_ board.Move, err error, elapsed time.Duration) {
			metrics.ObserveMove(err, elapsed)
		}),
	)
}
