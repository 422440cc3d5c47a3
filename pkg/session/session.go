package session

import (
	"fmt"
	"sync"
	"time"
)

// State tracks a call through its lifecycle
type State int32

const (
	StateCreated State = iota
	StateAwaitingMedia
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingMedia:
		return "awaiting_media"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Role identifies the speaker of a conversation turn
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one utterance in a call's conversation history. Immutable once
// appended; timestamps are non-decreasing within a session.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CallSession is the per-call state owned by the media bridge handling its
// socket. Other components read it through snapshots, never live references.
type CallSession struct {
	SessionKey  string
	CallerID    string
	CallerPhone string
	CallerName  string
	CallUUID    string
	CallStart   time.Time

	mu      sync.Mutex
	state   State
	history []Turn
}

// NewCallSession creates a session in the Created state
func NewCallSession(callerID, callerPhone, callerName, callUUID string) *CallSession {
	return &CallSession{
		SessionKey:  SessionKey(callerID, callUUID),
		CallerID:    callerID,
		CallerPhone: callerPhone,
		CallerName:  callerName,
		CallUUID:    callUUID,
		CallStart:   time.Now(),
		state:       StateCreated,
	}
}

// SessionKey forms the registry key for a call
func SessionKey(callerID, callUUID string) string {
	return fmt.Sprintf("%s_%s", callerID, callUUID)
}

// State returns the current lifecycle state
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState advances the lifecycle state
func (s *CallSession) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// AppendTurn appends an immutable turn to the conversation history. The
// turn's timestamp is clamped so history timestamps never decrease.
func (s *CallSession) AppendTurn(role Role, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now()
	if n := len(s.history); n > 0 && ts.Before(s.history[n-1].Timestamp) {
		ts = s.history[n-1].Timestamp
	}

	turn := Turn{Role: role, Text: text, Timestamp: ts}
	s.history = append(s.history, turn)
	return turn
}

// History returns a copy of the conversation history
func (s *CallSession) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot is an immutable view of a session handed to observers
type Snapshot struct {
	BeneficiaryID string    `json:"beneficiary_id"`
	CallerPhone   string    `json:"caller_phone"`
	CallUUID      string    `json:"call_uuid"`
	SessionID     string    `json:"session_id"`
	CallStart     time.Time `json:"call_start"`
	History       []Turn    `json:"conversation_history"`
	UserInfo      string    `json:"user_info"`
}

// Snapshot captures the session for broadcast; the history slice is a copy
func (s *CallSession) Snapshot() Snapshot {
	name := s.CallerName
	if name == "" {
		name = "Unknown User"
	}

	return Snapshot{
		BeneficiaryID: s.CallerID,
		CallerPhone:   s.CallerPhone,
		CallUUID:      s.CallUUID,
		SessionID:     s.SessionKey,
		CallStart:     s.CallStart,
		History:       s.History(),
		UserInfo:      name,
	}
}
