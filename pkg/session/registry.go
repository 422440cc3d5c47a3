package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/errors"
)

// Registry default wait parameters, matching the telephony platform's
// observed webhook/media-socket skew: the media socket can attach before
// the call webhook has finished creating the session.
const (
	DefaultAwaitTimeout = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Registry is the concurrency-safe store mapping session keys to live call
// sessions. It is the only session state shared across connection handlers;
// all synchronization is internal.
type Registry struct {
	logger   *logrus.Logger
	mu       sync.Mutex
	sessions map[string]*CallSession
	waiters  map[string][]chan *CallSession
}

// NewRegistry creates an empty in-memory registry
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*CallSession),
		waiters:  make(map[string][]chan *CallSession),
	}
}

// Put stores a session and wakes any handler blocked in AwaitRegistration
// on its key.
func (r *Registry) Put(key string, sess *CallSession) {
	r.mu.Lock()
	r.sessions[key] = sess

	waiters := r.waiters[key]
	delete(r.waiters, key)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- sess
	}

	r.logger.WithFields(logrus.Fields{
		"session_key": key,
		"call_uuid":   sess.CallUUID,
	}).Info("Call session registered")
}

// Get returns the session for a key, if present
func (r *Registry) Get(key string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]
	return sess, ok
}

// Remove deletes a session. Returns true if an entry was removed, so
// callers can keep teardown idempotent.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[key]; !ok {
		return false
	}
	delete(r.sessions, key)

	r.logger.WithField("session_key", key).Info("Call session removed")
	return true
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots returns observer-safe copies of every live session
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	sessions := make([]*CallSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	return snaps
}

// AwaitRegistration blocks until a session appears under the key or maxWait
// elapses. Registration wakes the waiter directly; pollInterval only sets a
// fallback re-check cadence and is retained for compatibility with the
// platform's documented 20 x 0.5s behavior.
func (r *Registry) AwaitRegistration(key string, maxWait, pollInterval time.Duration) (*CallSession, error) {
	if maxWait <= 0 {
		maxWait = DefaultAwaitTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	r.mu.Lock()
	if sess, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return sess, nil
	}

	ch := make(chan *CallSession, 1)
	r.waiters[key] = append(r.waiters[key], ch)
	r.mu.Unlock()

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	recheck := time.NewTicker(pollInterval)
	defer recheck.Stop()

	for {
		select {
		case sess := <-ch:
			return sess, nil
		case <-recheck.C:
			if sess, ok := r.Get(key); ok {
				r.dropWaiter(key, ch)
				return sess, nil
			}
		case <-deadline.C:
			r.dropWaiter(key, ch)
			r.logger.WithFields(logrus.Fields{
				"session_key": key,
				"max_wait":    maxWait,
			}).Warn("Timed out waiting for session registration")
			return nil, errors.NewSessionNotFound(key).WithField("max_wait", maxWait.String())
		}
	}
}

// dropWaiter unhooks a waiter channel after a timeout or fallback hit so a
// later Put does not send into an abandoned channel.
func (r *Registry) dropWaiter(key string, ch chan *CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := r.waiters[key]
	for i, w := range waiters {
		if w == ch {
			r.waiters[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(r.waiters[key]) == 0 {
		delete(r.waiters, key)
	}
}
