package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server/pkg/session"
)

type stubRegistry struct {
	snapshots []session.Snapshot
}

func (s *stubRegistry) Snapshots() []session.Snapshot {
	return s.snapshots
}

func newTestHub(t *testing.T, reg Registry) (*Hub, context.CancelFunc) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	if reg == nil {
		reg = &stubRegistry{}
	}

	hub := NewHub(logger, reg, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	return hub, cancel
}

// registerObserver attaches a pump-less observer directly to the hub's
// run loop so tests can drain its send channel.
func registerObserver(hub *Hub, bufferSize int) *Observer {
	obs := newObserver(hub, nil)
	obs.send = make(chan []byte, bufferSize)
	hub.register <- obs
	return obs
}

func readEvent(t *testing.T, obs *Observer) map[string]interface{} {
	t.Helper()

	select {
	case data, ok := <-obs.send:
		require.True(t, ok, "send channel closed unexpectedly")
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubSendsInitialStateOnSubscribe(t *testing.T) {
	reg := &stubRegistry{
		snapshots: []session.Snapshot{
			{BeneficiaryID: "ben-1", CallUUID: "uuid-1", SessionID: "ben-1_uuid-1"},
		},
	}
	hub, cancel := newTestHub(t, reg)
	defer cancel()

	obs := registerObserver(hub, 8)

	event := readEvent(t, obs)
	assert.Equal(t, "initial_state", event["type"])

	calls, ok := event["active_calls"].([]interface{})
	require.True(t, ok)
	require.Len(t, calls, 1)

	call := calls[0].(map[string]interface{})
	assert.Equal(t, "ben-1", call["beneficiary_id"])
}

func TestHubInitialStateEmptyRegistry(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	obs := registerObserver(hub, 8)

	event := readEvent(t, obs)
	assert.Equal(t, "initial_state", event["type"])
}

func TestHubBroadcastReachesAllObservers(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	first := registerObserver(hub, 8)
	second := registerObserver(hub, 8)

	// Drain initial state
	readEvent(t, first)
	readEvent(t, second)

	hub.PublishCallStarted(session.Snapshot{BeneficiaryID: "ben-2", CallUUID: "uuid-2"})

	for _, obs := range []*Observer{first, second} {
		event := readEvent(t, obs)
		assert.Equal(t, "call_started", event["type"])

		call := event["call"].(map[string]interface{})
		assert.Equal(t, "ben-2", call["beneficiary_id"])
	}
}

func TestHubTranscriptUpdateCarriesHistory(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	obs := registerObserver(hub, 8)
	readEvent(t, obs)

	now := time.Now()
	hub.PublishTranscript("ben-3", []session.Turn{
		{Role: session.RoleUser, Text: "hello", Timestamp: now},
		{Role: session.RoleBot, Text: "hi there", Timestamp: now.Add(time.Second)},
	})

	event := readEvent(t, obs)
	assert.Equal(t, "transcript_update", event["type"])
	assert.Equal(t, "ben-3", event["beneficiary_id"])

	history, ok := event["conversation_history"].([]interface{})
	require.True(t, ok)
	require.Len(t, history, 2)

	firstTurn := history[0].(map[string]interface{})
	assert.Equal(t, "user", firstTurn["role"])
	assert.Equal(t, "hello", firstTurn["message"])
}

func TestHubCallEnded(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	obs := registerObserver(hub, 8)
	readEvent(t, obs)

	hub.PublishCallEnded("ben-4")

	event := readEvent(t, obs)
	assert.Equal(t, "call_ended", event["type"])
	assert.Equal(t, "ben-4", event["beneficiary_id"])
}

func TestHubEvictsFailedObserverOthersStillReceive(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	// Stalled observer: buffer of one, filled by the initial state and
	// never drained.
	stalled := registerObserver(hub, 1)
	healthy := registerObserver(hub, 8)
	readEvent(t, healthy)

	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 2
	}, time.Second, 10*time.Millisecond)

	hub.PublishCallStarted(session.Snapshot{BeneficiaryID: "ben-5"})

	event := readEvent(t, healthy)
	assert.Equal(t, "call_started", event["type"])

	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Evicted observer's channel is closed once its buffered event is
	// drained.
	<-stalled.send
	_, open := <-stalled.send
	assert.False(t, open)

	hub.PublishCallEnded("ben-5")
	event = readEvent(t, healthy)
	assert.Equal(t, "call_ended", event["type"])
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	obs := registerObserver(hub, 8)
	readEvent(t, obs)

	hub.Unsubscribe(obs)
	require.Eventually(t, func() bool {
		return hub.ObserverCount() == 0
	}, time.Second, 10*time.Millisecond)

	hub.Unsubscribe(obs)
	assert.Equal(t, 0, hub.ObserverCount())
}

func TestHubShutdownClosesObservers(t *testing.T) {
	hub, cancel := newTestHub(t, nil)

	obs := registerObserver(hub, 8)
	readEvent(t, obs)

	cancel()

	select {
	case _, open := <-obs.send:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
}

type captureExporter struct {
	events chan string
}

func (c *captureExporter) Export(eventType, beneficiaryID string, payload []byte) {
	c.events <- eventType
}

func TestHubExporterReceivesEvents(t *testing.T) {
	hub, cancel := newTestHub(t, nil)
	defer cancel()

	exporter := &captureExporter{events: make(chan string, 4)}
	hub.AddExporter(exporter)

	hub.PublishCallEnded("ben-6")

	select {
	case eventType := <-exporter.events:
		assert.Equal(t, "call_ended", eventType)
	case <-time.After(2 * time.Second):
		t.Fatal("exporter did not receive event")
	}
}

// The hub consumes the concrete session registry through its Registry
// interface; initial state must reflect sessions stored there.
func TestHubWithSessionRegistry(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry := session.NewRegistry(logger)
	sess := session.NewCallSession("42", "+919800000000", "Asha Pawar", "call-1")
	registry.Put(sess.SessionKey, sess)

	hub := NewHub(logger, registry, 0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	obs := registerObserver(hub, 8)
	event := readEvent(t, obs)

	assert.Equal(t, string(EventInitialState), event["type"])
	calls := event["active_calls"].([]interface{})
	require.Len(t, calls, 1)
	call := calls[0].(map[string]interface{})
	assert.Equal(t, "42", call["beneficiary_id"])
}

// A silent observer is probed with a ping once the configured idle
// window elapses.
func TestObserverPingAfterConfiguredIdle(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	hub := NewHub(logger, &stubRegistry{}, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var initial map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &initial))
	require.Equal(t, string(EventInitialState), initial["type"])

	// Stay silent; the next server message must be the idle probe
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	var probe map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &probe))
	assert.Equal(t, string(EventPing), probe["type"])
}
