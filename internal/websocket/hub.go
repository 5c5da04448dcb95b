package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Speech events carry full
	// response payloads, so this is generous for JSON.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Restrict origins once the viewer deployment origin is fixed
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active clients and their annotation sessions.
type Hub struct {
	// Registered clients keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	service *usecase.AnnotationService

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(service *usecase.AnnotationService, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connection_id", client.id),
				zap.String("annotator_id", client.annotatorID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("connection_id", client.id),
				zap.String("annotator_id", client.annotatorID))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseIdleSessions closes and archives sessions that have seen no
// activity for maxIdle. It returns how many sessions were closed.
func (h *Hub) CloseIdleSessions(maxIdle time.Duration) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	closed := 0
	for _, client := range clients {
		if client.closeIfIdle(maxIdle) {
			closed++
		}
	}
	return closed
}

// Client is a middleman between the websocket connection and the hub.
// Each connection owns exactly one live annotation session at a time.
type Client struct {
	hub *Hub

	// Connection id, stable for the lifetime of the socket.
	id string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated annotator behind this connection
	annotatorID string

	// The live session. Replaced with a fresh one on session.start.
	session *entities.AnnotationSession

	validator *MessageValidator

	logger *zap.Logger

	// Serializes session access between the read pump and the janitor
	mutex sync.Mutex

	// Protects send and closed. The janitor writes to send from outside
	// the read pump, so the hub must not close the channel mid-send.
	sendMu sync.Mutex
	closed bool
}

// HandleWebSocket handles websocket requests from an authenticated
// annotator. A fresh idle session is attached to the connection.
func HandleWebSocket(hub *Hub, c echo.Context, annotatorID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:         hub,
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		annotatorID: annotatorID,
		session:     entities.NewAnnotationSession(annotatorID),
		validator:   NewMessageValidator(),
		logger:      logger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.closeSessionOnDisconnect()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Ignoring non-text message", zap.Int("type", messageType))
			continue
		}

		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage validates and dispatches one incoming message
func (c *Client) processMessage(message []byte) {
	parsed, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected invalid message", zap.Error(err))
		c.sendMessage(CreateErrorMessage(ErrorCodeInvalidMessage, "invalid message", err.Error()))
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch msg := parsed.(type) {
	case *SessionStartMessage:
		c.handleSessionStart(msg)
	case *SessionReadyMessage:
		c.handleSessionReady()
	case *SessionStopMessage:
		c.handleSessionStop()
	case *SpeechEventMessage:
		c.handleSpeechEvent(msg)
	case *PlaceAnnotationMessage:
		c.handleAnnotationPlace(msg)
	case *UpdateAnnotationMessage:
		c.handleAnnotationUpdate(msg)
	case *PingMessage:
		c.sendMessage(CreatePongMessage(msg.Data))
	}
}

// handleSessionStart begins a fresh session. A connection reuses its
// idle session, anything further along is closed and archived first so
// no dictated work is lost.
func (c *Client) handleSessionStart(msg *SessionStartMessage) {
	if c.session.Status != entities.SessionStatusIdle {
		if !c.session.IsClosed() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.hub.service.CloseSession(ctx, c.session); err != nil {
				c.logger.Error("Failed to close previous session", zap.Error(err))
			}
			cancel()
		}
		c.session = entities.NewAnnotationSession(c.annotatorID)
	}

	if err := c.hub.service.StartSession(c.session, msg.Manuscript); err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(CreateSessionStateMessage(c.session))
}

func (c *Client) handleSessionReady() {
	if err := c.hub.service.ActivateSession(c.session); err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(CreateSessionStateMessage(c.session))
}

func (c *Client) handleSessionStop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.hub.service.CloseSession(ctx, c.session); err != nil {
		c.sendError(err)
		return
	}
	c.sendMessage(CreateSessionStateMessage(c.session))
}

// handleSpeechEvent feeds one provider event through the service. New
// drafts are broadcast back and every function call gets its ack
// relayed through the browser.
func (c *Client) handleSpeechEvent(msg *SpeechEventMessage) {
	outcome, err := c.hub.service.ProcessSpeechEvent(c.session, msg.Event)
	if err != nil {
		c.sendError(err)
		return
	}

	for _, ack := range outcome.Acks {
		c.sendMessage(CreateSpeechSendMessage(ack))
	}
	if len(outcome.DraftIndexes) > 0 {
		c.sendMessage(CreateAnnotationsStateMessage(c.session))
	}
}

func (c *Client) handleAnnotationPlace(msg *PlaceAnnotationMessage) {
	_, _, err := c.hub.service.PlaceAnnotation(c.session, msg.RecordIndex(), *msg.Box)
	if err != nil {
		c.sendError(err)
		return
	}

	c.sendMessage(CreateAnnotationsStateMessage(c.session))
	c.sendMessage(CreateConnectionsStateMessage(c.session))
}

func (c *Client) handleAnnotationUpdate(msg *UpdateAnnotationMessage) {
	// ParseCategory maps everything unknown to syllable, so an omitted
	// category must not pass through it. Empty means keep the draft's.
	var category entities.Category
	if msg.Category != "" {
		category = entities.ParseCategory(msg.Category)
	}

	_, err := c.hub.service.UpdateAnnotation(c.session, *msg.Index, category, msg.Label)
	if err != nil {
		c.sendError(err)
		return
	}

	c.sendMessage(CreateAnnotationsStateMessage(c.session))
	c.sendMessage(CreateConnectionsStateMessage(c.session))
}

// closeIfIdle closes the session when it has been inactive for maxIdle
func (c *Client) closeIfIdle(maxIdle time.Duration) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session.IsClosed() || !c.session.IdleFor(maxIdle) {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.hub.service.CloseSession(ctx, c.session); err != nil {
		c.logger.Error("Failed to close idle session",
			zap.String("session_id", c.session.ID),
			zap.Error(err))
		return false
	}

	c.logger.Info("Closed idle session",
		zap.String("session_id", c.session.ID),
		zap.String("annotator_id", c.annotatorID))
	c.sendMessage(CreateSessionStateMessage(c.session))
	return true
}

// closeSessionOnDisconnect archives whatever the session holds when
// the socket drops. Started sessions must not lose dictated work.
func (c *Client) closeSessionOnDisconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session.IsClosed() || c.session.Status == entities.SessionStatusIdle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.hub.service.CloseSession(ctx, c.session); err != nil {
		c.logger.Error("Failed to close session on disconnect",
			zap.String("session_id", c.session.ID),
			zap.Error(err))
	}
}

// sendError maps a domain error onto the wire error codes
func (c *Client) sendError(err error) {
	code := ErrorCodeInternal
	switch {
	case errors.Is(err, entities.ErrSessionClosed):
		code = ErrorCodeSessionClosed
	case errors.Is(err, entities.ErrSessionNotStarted), errors.Is(err, entities.ErrInvalidTransition):
		code = ErrorCodeSessionState
	case errors.Is(err, entities.ErrNoUnplacedDraft),
		errors.Is(err, entities.ErrRecordOutOfRange),
		errors.Is(err, entities.ErrRecordPlaced):
		code = ErrorCodeAnnotation
	}

	c.sendMessage(CreateErrorMessage(code, err.Error(), ""))
}

// sendMessage marshals and enqueues one outbound message. A slow
// client that fills its buffer loses messages instead of blocking the
// read loop.
func (c *Client) sendMessage(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Dropped outbound message, send buffer full",
			zap.String("connection_id", c.id))
	}
}

// closeSend closes the outbound channel exactly once
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
