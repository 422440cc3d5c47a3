package stt

import (
	"sync"

	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/metrics"
)

// Event is a finalized recognition result handed from the provider's
// goroutine to the session's consumer goroutine.
type Event struct {
	SessionID  string
	Transcript string
	Metadata   map[string]interface{}
}

const eventBufferSize = 16

// EventAdapter marshals recognition callbacks, which arrive on the
// provider's goroutine, into an ordered channel consumed by a single
// goroutine owned by the session's bridge. Partial results are
// observational only; finals are enqueued in arrival order.
type EventAdapter struct {
	logger    *logrus.Entry
	sessionID string

	mu     sync.Mutex
	events chan Event
	closed bool
}

// NewEventAdapter creates an adapter for one session
func NewEventAdapter(logger *logrus.Logger, sessionID string) *EventAdapter {
	return &EventAdapter{
		logger:    logger.WithField("session_id", sessionID),
		sessionID: sessionID,
		events:    make(chan Event, eventBufferSize),
	}
}

// Callback returns the RecognitionCallback to hand to the provider.
// Results for other sessions are ignored; providers are shared.
func (a *EventAdapter) Callback() RecognitionCallback {
	return func(sessionID, transcript string, isFinal bool, metadata map[string]interface{}) {
		if sessionID != a.sessionID || transcript == "" {
			return
		}

		if !isFinal {
			a.logger.WithField("transcript", transcript).Debug("Interim recognition result")
			return
		}

		a.logger.WithField("transcript", transcript).Info("Final recognition result")
		metrics.RecordFinalUtterance(sessionID)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}

		select {
		case a.events <- Event{SessionID: sessionID, Transcript: transcript, Metadata: metadata}:
		default:
			// Consumer is far behind; dropping keeps the provider's
			// delivery goroutine unblocked.
			a.logger.WithField("transcript", transcript).Warning("Recognition event buffer full, dropping utterance")
			metrics.RecordDroppedUtterance(sessionID)
		}
	}
}

// Events is the single-consumer channel of finalized utterances
func (a *EventAdapter) Events() <-chan Event {
	return a.events
}

// Close stops event delivery. Events already queued remain readable;
// the channel is closed so the consumer loop terminates. Idempotent.
func (a *EventAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		a.closed = true
		close(a.events)
	}
}

// Router fans a shared provider's callback out to per-session adapters.
// Providers hold a single callback for their lifetime; the router is that
// callback, and sessions attach and detach as calls come and go.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]*EventAdapter
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{adapters: make(map[string]*EventAdapter)}
}

// Attach registers a session's adapter, replacing any previous one
func (r *Router) Attach(sessionID string, adapter *EventAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[sessionID] = adapter
}

// Attached reports whether a session currently has an adapter
func (r *Router) Attached(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[sessionID]
	return ok
}

// Detach removes a session's adapter. Safe to call for unknown sessions.
func (r *Router) Detach(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, sessionID)
}

// Callback returns the RecognitionCallback to install on shared providers.
// Results for sessions without an attached adapter are dropped silently.
func (r *Router) Callback() RecognitionCallback {
	return func(sessionID, transcript string, isFinal bool, metadata map[string]interface{}) {
		r.mu.RLock()
		adapter, ok := r.adapters[sessionID]
		r.mu.RUnlock()
		if ok {
			adapter.Callback()(sessionID, transcript, isFinal, metadata)
		}
	}
}

// ResponseGuard enforces at most one in-flight reply pipeline per
// session. Utterances finalized while a reply is being generated are
// dropped, not queued; answering a stale utterance after the backlog
// drains is worse than asking the caller to repeat themselves.
type ResponseGuard struct {
	mu       sync.Mutex
	inFlight bool
	dropped  uint64
}

// TryBegin claims the pipeline. Returns false if a reply is already in
// flight.
func (g *ResponseGuard) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		g.dropped++
		return false
	}
	g.inFlight = true
	return true
}

// End releases the pipeline; call from a defer so failures also clear
// the guard.
func (g *ResponseGuard) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
}

// InFlight reports whether a reply is currently being generated
func (g *ResponseGuard) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Dropped returns how many utterances the guard has rejected
func (g *ResponseGuard) Dropped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
