package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/metrics"
	"voicegate-server/pkg/session"
)

// EventType identifies a dashboard protocol message
type EventType string

const (
	EventInitialState      EventType = "initial_state"
	EventCallStarted       EventType = "call_started"
	EventTranscriptUpdated EventType = "transcript_update"
	EventCallEnded         EventType = "call_ended"
	EventPing              EventType = "ping"
	EventPong              EventType = "pong"
)

// Exporter receives every published event for out-of-band delivery
// (e.g. an AMQP queue). Export must not block the hub.
type Exporter interface {
	Export(eventType string, beneficiaryID string, payload []byte)
}

type initialStateMessage struct {
	Type        EventType          `json:"type"`
	ActiveCalls []session.Snapshot `json:"active_calls"`
}

type callStartedMessage struct {
	Type EventType        `json:"type"`
	Call session.Snapshot `json:"call"`
}

type transcriptMessage struct {
	Type          EventType      `json:"type"`
	BeneficiaryID string         `json:"beneficiary_id"`
	History       []session.Turn `json:"conversation_history"`
}

type callEndedMessage struct {
	Type          EventType `json:"type"`
	BeneficiaryID string    `json:"beneficiary_id"`
}

type controlMessage struct {
	Type EventType `json:"type"`
}

// Hub fans lifecycle and transcript events out to dashboard observers.
// Publish never blocks on a slow observer: an observer whose buffer is
// full is evicted and delivery continues to the rest.
type Hub struct {
	logger   *logrus.Logger
	registry Registry

	observers    map[*Observer]bool
	register     chan *Observer
	unregister   chan *Observer
	broadcast    chan broadcastEnvelope
	mutex        sync.RWMutex
	running      atomic.Bool
	pingInterval time.Duration

	exporters []Exporter
}

// Registry is the subset of the session registry the hub needs for
// initial-state snapshots.
type Registry interface {
	Snapshots() []session.Snapshot
}

type broadcastEnvelope struct {
	eventType     EventType
	beneficiaryID string
	data          []byte
}

// Upgrader configures dashboard websocket connections. Observers are
// pre-authorized at the transport, so all origins are accepted.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a hub; Run must be started before publishing. A
// non-positive pingInterval falls back to the default idle probe window.
func NewHub(logger *logrus.Logger, registry Registry, pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	return &Hub{
		logger:       logger,
		registry:     registry,
		observers:    make(map[*Observer]bool),
		register:     make(chan *Observer),
		unregister:   make(chan *Observer),
		broadcast:    make(chan broadcastEnvelope, 64),
		pingInterval: pingInterval,
	}
}

// AddExporter attaches an out-of-band event exporter
func (h *Hub) AddExporter(e Exporter) {
	h.exporters = append(h.exporters, e)
}

// Run drives registration and fan-out until the context is canceled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting dashboard broadcast hub")
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down dashboard broadcast hub")
			h.mutex.Lock()
			for obs := range h.observers {
				close(obs.send)
				delete(h.observers, obs)
			}
			h.mutex.Unlock()
			return

		case obs := <-h.register:
			h.mutex.Lock()
			h.observers[obs] = true
			h.mutex.Unlock()

			metrics.RecordObserverConnected(1)
			h.logger.WithField("observer_id", obs.id).Info("Dashboard observer connected")

			// A fresh observer gets the active-call snapshot so it is
			// consistent without replaying history.
			h.sendInitialState(obs)

		case obs := <-h.unregister:
			h.removeObserver(obs)

		case envelope := <-h.broadcast:
			h.deliver(envelope)
		}
	}
}

// Subscribe registers an observer for an upgraded connection and starts
// its pumps.
func (h *Hub) Subscribe(conn *websocket.Conn) *Observer {
	obs := newObserver(h, conn)
	h.register <- obs

	go obs.writePump()
	go obs.readPump()

	return obs
}

// Unsubscribe removes an observer; safe to call from any goroutine and
// idempotent with hub-side eviction.
func (h *Hub) Unsubscribe(obs *Observer) {
	select {
	case h.unregister <- obs:
	default:
		// Run loop already gone; clean up directly
		h.removeObserver(obs)
	}
}

// PublishCallStarted announces a new call with its session snapshot
func (h *Hub) PublishCallStarted(snap session.Snapshot) {
	h.publish(EventCallStarted, snap.BeneficiaryID, callStartedMessage{Type: EventCallStarted, Call: snap})
}

// PublishTranscript announces an updated conversation history
func (h *Hub) PublishTranscript(beneficiaryID string, history []session.Turn) {
	h.publish(EventTranscriptUpdated, beneficiaryID, transcriptMessage{
		Type:          EventTranscriptUpdated,
		BeneficiaryID: beneficiaryID,
		History:       history,
	})
}

// PublishCallEnded announces call termination
func (h *Hub) PublishCallEnded(beneficiaryID string) {
	h.publish(EventCallEnded, beneficiaryID, callEndedMessage{Type: EventCallEnded, BeneficiaryID: beneficiaryID})
}

func (h *Hub) publish(eventType EventType, beneficiaryID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).Error("Failed to marshal dashboard event")
		return
	}

	select {
	case h.broadcast <- broadcastEnvelope{eventType: eventType, beneficiaryID: beneficiaryID, data: data}:
		metrics.RecordTranscriptPublished(string(eventType))
	default:
		h.logger.WithField("event_type", eventType).Warning("Broadcast channel full, dropping event")
	}
}

// deliver sends an envelope to every observer independently; one failed
// observer never blocks the rest.
func (h *Hub) deliver(envelope broadcastEnvelope) {
	for _, exporter := range h.exporters {
		go exporter.Export(string(envelope.eventType), envelope.beneficiaryID, envelope.data)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for obs := range h.observers {
		select {
		case obs.send <- envelope.data:
		default:
			h.logger.WithField("observer_id", obs.id).Warning("Observer send buffer full, evicting")
			close(obs.send)
			delete(h.observers, obs)
			metrics.RecordObserverEviction()
		}
	}
}

func (h *Hub) sendInitialState(obs *Observer) {
	snaps := h.registry.Snapshots()
	data, err := json.Marshal(initialStateMessage{Type: EventInitialState, ActiveCalls: snaps})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal initial state")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.observers[obs] {
		return
	}
	select {
	case obs.send <- data:
		h.logger.WithFields(logrus.Fields{
			"observer_id":  obs.id,
			"active_calls": len(snaps),
		}).Debug("Sent initial state to observer")
	default:
		close(obs.send)
		delete(h.observers, obs)
		metrics.RecordObserverEviction()
	}
}

func (h *Hub) removeObserver(obs *Observer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.observers[obs]; ok {
		delete(h.observers, obs)
		close(obs.send)
		metrics.RecordObserverConnected(-1)
		h.logger.WithField("observer_id", obs.id).Info("Dashboard observer disconnected")
	}
}

// IsRunning reports whether the fan-out loop is active
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// ObserverCount returns the number of connected observers
func (h *Hub) ObserverCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.observers)
}

// ServeWs upgrades an HTTP request and subscribes the connection
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade dashboard connection")
		return
	}

	h.Subscribe(conn)
}

// pingControl is the serialized ping frame sent on observer read timeout
func pingControl() []byte {
	data, _ := json.Marshal(controlMessage{Type: EventPing})
	return data
}

// pongControl is the serialized keep-alive acknowledgment
func pongControl() []byte {
	data, _ := json.Marshal(controlMessage{Type: EventPong})
	return data
}
