package services

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fitcrm/internal/models"
)

// EventMessage is one frame pushed to dashboard subscribers.
type EventMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type eventSubscriber struct {
	id   string
	conn *websocket.Conn
	send chan EventMessage
	hub  *EventHub
}

// EventHub streams automation executions and inbox activity to
// connected dashboards over websockets.
type EventHub struct {
	logger      *logrus.Logger
	subscribers map[string]*eventSubscriber
	broadcast   chan EventMessage
	register    chan *eventSubscriber
	unregister  chan *eventSubscriber
	mutex       sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		logger:      logger,
		subscribers: make(map[string]*eventSubscriber),
		broadcast:   make(chan EventMessage, 64),
		register:    make(chan *eventSubscriber),
		unregister:  make(chan *eventSubscriber),
	}
}

func (h *EventHub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mutex.Lock()
			h.subscribers[sub.id] = sub
			h.mutex.Unlock()
			h.logger.WithField("subscriber", sub.id).Debug("Dashboard connected")

		case sub := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.subscribers[sub.id]; ok {
				delete(h.subscribers, sub.id)
				close(sub.send)
				h.logger.WithField("subscriber", sub.id).Debug("Dashboard disconnected")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					close(sub.send)
					delete(h.subscribers, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// PublishLog pushes a finished automation execution to all
// subscribers. Non-blocking: a full broadcast queue drops the frame.
func (h *EventHub) PublishLog(log *models.AutomationLog) {
	select {
	case h.broadcast <- EventMessage{Type: "automation_log", Data: log, Timestamp: time.Now()}:
	default:
	}
}

// Publish pushes an arbitrary event frame.
func (h *EventHub) Publish(eventType string, data interface{}) {
	select {
	case h.broadcast <- EventMessage{Type: eventType, Data: data, Timestamp: time.Now()}:
	default:
	}
}

func (h *EventHub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

func (h *EventHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	sub := &eventSubscriber{
		id:   fmt.Sprintf("dash_%d", time.Now().UnixNano()),
		conn: conn,
		send: make(chan EventMessage, 256),
		hub:  h,
	}
	h.register <- sub

	go sub.writePump()
	go sub.readPump()
}

// readPump only services control frames; subscribers never send data.
func (s *eventSubscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}

func (s *eventSubscriber) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
