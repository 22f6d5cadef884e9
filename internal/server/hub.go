package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"offlinewatch/internal/indicator"
	"offlinewatch/internal/models"
)

const (
	hubWriteTimeout = 5 * time.Second
	hubSendBuffer   = 32
	hubReadLimit    = 4096

	messageTransition   = "transition"
	messageNotification = "notification"
	messageDismiss      = "notification_dismiss"
	messageIndicator    = "indicator"
	messageOverview     = "overview"

	clientAction  = "action"
	clientDismiss = "dismiss"
)

// ErrUnknownNotification is returned for ids that are not on screen.
var ErrUnknownNotification = errors.New("unknown notification")

var hubUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// Message is pushed to every connected client.
type Message struct {
	Type         string                  `json:"type"`
	Transition   *models.StateTransition `json:"transition,omitempty"`
	Notification *notificationPayload    `json:"notification,omitempty"`
	ID           string                  `json:"id,omitempty"`
	Event        *models.IndicatorEvent  `json:"event,omitempty"`
	Overview     *overviewSnapshot       `json:"overview,omitempty"`
}

type notificationPayload struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	ActionLabel string             `json:"action_label"`
	Icon        string             `json:"icon,omitempty"`
	Position    indicator.Position `json:"position"`
	DurationMs  int64              `json:"duration_ms"`
	SingleLine  bool               `json:"single_line"`
}

type clientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type activeNotification struct {
	n     indicator.Notification
	timer *time.Timer
}

type hubClient struct {
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub presents notifications to websocket clients and relays their
// action and dismiss callbacks. It implements indicator.Presenter.
type Hub struct {
	logger  *zap.Logger
	welcome func() []Message

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	active  map[string]*activeNotification
	closed  bool
}

// NewHub creates a hub. welcome, if set, builds the messages each new
// client receives before any broadcast.
func NewHub(logger *zap.Logger, welcome func() []Message) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.Named("hub"),
		welcome: welcome,
		clients: make(map[*hubClient]struct{}),
		active:  make(map[string]*activeNotification),
	}
}

// Show broadcasts n and dismisses it after its duration unless the user
// acts first.
func (h *Hub) Show(n indicator.Notification) error {
	entry := &activeNotification{n: n}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub closed")
	}
	if old, ok := h.active[n.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	h.active[n.ID] = entry
	if n.Duration > 0 {
		id := n.ID
		entry.timer = time.AfterFunc(n.Duration, func() { h.expire(id) })
	}
	h.mu.Unlock()

	h.broadcast(Message{
		Type: messageNotification,
		Notification: &notificationPayload{
			ID:          n.ID,
			Title:       n.Title,
			ActionLabel: n.ActionLabel,
			Icon:        n.Icon,
			Position:    n.Position,
			DurationMs:  n.Duration.Milliseconds(),
			SingleLine:  n.SingleLine,
		},
	})
	return nil
}

// Dismiss removes a notification without firing its callbacks.
func (h *Hub) Dismiss(id string) error {
	if _, ok := h.take(id); !ok {
		return ErrUnknownNotification
	}
	h.broadcast(Message{Type: messageDismiss, ID: id})
	return nil
}

// Action reports that the user tapped the action of notification id.
func (h *Hub) Action(id string) error {
	n, ok := h.take(id)
	if !ok {
		return ErrUnknownNotification
	}
	h.broadcast(Message{Type: messageDismiss, ID: id})
	if n.OnAction != nil {
		n.OnAction()
	}
	return nil
}

// Swipe reports that the user dismissed notification id without acting.
func (h *Hub) Swipe(id string) error {
	n, ok := h.take(id)
	if !ok {
		return ErrUnknownNotification
	}
	h.broadcast(Message{Type: messageDismiss, ID: id})
	if n.OnDismiss != nil {
		n.OnDismiss()
	}
	return nil
}

// Active returns the ids of notifications currently on screen.
func (h *Hub) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.active))
	for id := range h.active {
		ids = append(ids, id)
	}
	return ids
}

// PublishTransition pushes a connection state change.
func (h *Hub) PublishTransition(t models.StateTransition) {
	h.broadcast(Message{Type: messageTransition, Transition: &t})
}

// PublishIndicatorEvent pushes an indicator event.
func (h *Hub) PublishIndicatorEvent(e models.IndicatorEvent) {
	h.broadcast(Message{Type: messageIndicator, Event: &e})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and cancels pending auto-dismissals.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, entry := range h.active {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	h.active = make(map[string]*activeNotification)
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and serves one client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &hubClient{conn: conn, send: make(chan Message, hubSendBuffer)}
	if h.welcome != nil {
		for _, msg := range h.welcome() {
			client.send <- msg
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) take(id string) (indicator.Notification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.active[id]
	if !ok {
		return indicator.Notification{}, false
	}
	delete(h.active, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry.n, true
}

func (h *Hub) expire(id string) {
	if err := h.Swipe(id); err == nil {
		h.logger.Debug("notification expired", zap.String("id", id))
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client")
			c.close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *hubClient) {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readPump(c *hubClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(hubReadLimit)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("malformed client message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case clientAction:
			err = h.Action(msg.ID)
		case clientDismiss:
			err = h.Swipe(msg.ID)
		default:
			h.logger.Debug("unknown client message", zap.String("type", msg.Type))
			continue
		}
		if err != nil {
			h.logger.Debug("client callback ignored", zap.String("id", msg.ID), zap.Error(err))
		}
	}
}
