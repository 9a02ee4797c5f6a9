package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/interfaces"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxReadBytes   = 512
	sendBufferSize = 64
)

// Subscriber one live feed connection
type Subscriber struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans domain events out to websocket subscribers of the manufacturer feed.
// Slow subscribers drop messages instead of blocking publishers.
type Hub struct {
	subscribers map[string]*Subscriber
	register    chan *Subscriber
	unregister  chan *Subscriber
	broadcast   chan []byte
	done        chan struct{}
	upgrader    websocket.Upgrader
	logger      *logrus.Logger
	mutex       sync.RWMutex
}

// NewHub creates a hub; call Run to start dispatching
func NewHub(allowedOrigins []string, logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run dispatches until ctx is cancelled, then closes every subscriber
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case sub := <-h.register:
			h.mutex.Lock()
			h.subscribers[sub.ID] = sub
			metrics.FeedSubscribers.Set(float64(len(h.subscribers)))
			h.mutex.Unlock()
			h.logger.WithField("subscriber_id", sub.ID).Info("Feed subscriber connected")
		case sub := <-h.unregister:
			h.remove(sub)
		case message := <-h.broadcast:
			h.mutex.RLock()
			for _, sub := range h.subscribers {
				select {
				case sub.Send <- message:
				default:
					h.logger.WithField("subscriber_id", sub.ID).Warn("Feed subscriber buffer full, dropping event")
				}
			}
			h.mutex.RUnlock()
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.subscribers[sub.ID]; !ok {
		return
	}
	delete(h.subscribers, sub.ID)
	close(sub.Send)
	metrics.FeedSubscribers.Set(float64(len(h.subscribers)))
	h.logger.WithField("subscriber_id", sub.ID).Info("Feed subscriber disconnected")
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, sub := range h.subscribers {
		close(sub.Send)
		delete(h.subscribers, id)
	}
	metrics.FeedSubscribers.Set(0)
}

// Subscribers current subscriber count
func (h *Hub) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// Publish queues the event for every subscriber
func (h *Hub) Publish(ctx context.Context, event interfaces.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- payload:
		metrics.EventsPublished.WithLabelValues("feed", event.Type).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Feed upgrade failed")
		return
	}

	sub := &Subscriber{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

// readPump only services control frames; the feed is one-way
func (h *Hub) readPump(sub *Subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
		}
		sub.Conn.Close()
	}()

	sub.Conn.SetReadLimit(maxReadBytes)
	sub.Conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.Conn.SetPongHandler(func(string) error {
		sub.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("subscriber_id", sub.ID).Debug("Feed read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
