package dashboard

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the observer
	writeWait = 10 * time.Second

	// Default inactivity window before the hub probes an observer with a
	// ping; overridden by OBSERVER_PING_INTERVAL via NewHub.
	defaultPingInterval = 30 * time.Second

	// Maximum inbound message size; observers only send keep-alives
	maxMessageSize = 1024

	// Outbound queue depth per observer
	sendBufferSize = 256
)

// Observer is a single dashboard websocket subscriber. Broadcast events
// arrive on send from the hub; keep-alive traffic flows on control from
// its own read pump. Both drain through writePump so the connection only
// ever has one writer.
type Observer struct {
	id           string
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	control      chan []byte
	idleProbe    time.Duration
	lastActivity atomic.Int64
}

func newObserver(hub *Hub, conn *websocket.Conn) *Observer {
	o := &Observer{
		id:        uuid.New().String(),
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		control:   make(chan []byte, 4),
		idleProbe: hub.pingInterval,
	}
	o.lastActivity.Store(time.Now().UnixNano())
	return o
}

// ID returns the observer's identifier
func (o *Observer) ID() string {
	return o.id
}

// writePump serializes all writes to the connection and probes quiet
// observers with an application-level ping. It exits when the hub
// closes the send channel or a write fails.
func (o *Observer) writePump() {
	ticker := time.NewTicker(o.idleProbe)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case message, ok := <-o.send:
			if !ok {
				o.conn.SetWriteDeadline(time.Now().Add(writeWait))
				o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				o.hub.logger.WithError(err).WithField("observer_id", o.id).Debug("Observer write failed")
				o.hub.Unsubscribe(o)
				return
			}

		case message := <-o.control:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				o.hub.Unsubscribe(o)
				return
			}

		case <-ticker.C:
			if time.Since(time.Unix(0, o.lastActivity.Load())) < o.idleProbe {
				continue
			}
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, pingControl()); err != nil {
				o.hub.Unsubscribe(o)
				return
			}
		}
	}
}

// readPump consumes inbound traffic. Any message from the observer is a
// keep-alive and is answered with a pong. A read error ends the
// subscription.
func (o *Observer) readPump() {
	defer o.hub.Unsubscribe(o)

	o.conn.SetReadLimit(maxMessageSize)

	for {
		_, _, err := o.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				o.hub.logger.WithError(err).WithField("observer_id", o.id).Debug("Observer read error")
			}
			return
		}

		o.lastActivity.Store(time.Now().UnixNano())
		o.queueControl(pongControl())
	}
}

// queueControl drops the frame if the control queue is full; a stalled
// observer is evicted by writePump anyway.
func (o *Observer) queueControl(message []byte) {
	select {
	case o.control <- message:
	default:
	}
}
