package stt

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestEventAdapterDeliversFinalsInOrder(t *testing.T) {
	adapter := NewEventAdapter(testLogger(), "sess-1")
	defer adapter.Close()

	cb := adapter.Callback()
	cb("sess-1", "first", true, nil)
	cb("sess-1", "second", true, nil)
	cb("sess-1", "third", true, nil)

	for _, want := range []string{"first", "second", "third"} {
		select {
		case event := <-adapter.Events():
			assert.Equal(t, want, event.Transcript)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestEventAdapterSkipsInterimResults(t *testing.T) {
	adapter := NewEventAdapter(testLogger(), "sess-2")
	defer adapter.Close()

	cb := adapter.Callback()
	cb("sess-2", "partial text", false, nil)
	cb("sess-2", "full text", true, nil)

	event := <-adapter.Events()
	assert.Equal(t, "full text", event.Transcript)

	select {
	case extra := <-adapter.Events():
		t.Fatalf("unexpected extra event %q", extra.Transcript)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventAdapterIgnoresOtherSessions(t *testing.T) {
	adapter := NewEventAdapter(testLogger(), "sess-3")
	defer adapter.Close()

	cb := adapter.Callback()
	cb("someone-else", "not for us", true, nil)
	cb("sess-3", "", true, nil)

	select {
	case event := <-adapter.Events():
		t.Fatalf("unexpected event %q", event.Transcript)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventAdapterCallbackAfterCloseIsSafe(t *testing.T) {
	adapter := NewEventAdapter(testLogger(), "sess-4")
	cb := adapter.Callback()

	adapter.Close()
	adapter.Close() // idempotent

	assert.NotPanics(t, func() {
		cb("sess-4", "late result", true, nil)
	})

	// Channel is closed and empty
	_, open := <-adapter.Events()
	assert.False(t, open)
}

func TestEventAdapterConcurrentCallbacks(t *testing.T) {
	adapter := NewEventAdapter(testLogger(), "sess-5")
	cb := adapter.Callback()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb("sess-5", "utterance", true, nil)
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range adapter.Events() {
			received++
		}
	}()

	wg.Wait()
	adapter.Close()
	<-done

	// Buffer holds 16, so all 8 must arrive
	assert.Equal(t, 8, received)
}

func TestResponseGuardSingleFlight(t *testing.T) {
	var guard ResponseGuard

	require.True(t, guard.TryBegin())
	assert.True(t, guard.InFlight())

	// Second utterance arrives while the reply is in flight: dropped
	assert.False(t, guard.TryBegin())
	assert.False(t, guard.TryBegin())
	assert.Equal(t, uint64(2), guard.Dropped())

	guard.End()
	assert.False(t, guard.InFlight())
	assert.True(t, guard.TryBegin())
	guard.End()
}

func TestResponseGuardConcurrentClaim(t *testing.T) {
	var guard ResponseGuard

	const claimers = 16
	granted := make(chan bool, claimers)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted <- guard.TryBegin()
		}()
	}
	wg.Wait()
	close(granted)

	winners := 0
	for ok := range granted {
		if ok {
			winners++
		}
	}

	assert.Equal(t, 1, winners)
	assert.Equal(t, uint64(claimers-1), guard.Dropped())
}

func TestRouterDispatchesBySession(t *testing.T) {
	router := NewRouter()

	a := NewEventAdapter(testLogger(), "call-a")
	b := NewEventAdapter(testLogger(), "call-b")
	router.Attach("call-a", a)
	router.Attach("call-b", b)

	callback := router.Callback()
	callback("call-a", "hello from a", true, nil)
	callback("call-b", "hello from b", true, nil)
	callback("call-c", "nobody listening", true, nil)

	select {
	case event := <-a.Events():
		assert.Equal(t, "hello from a", event.Transcript)
	case <-time.After(time.Second):
		t.Fatal("adapter a never received its event")
	}

	select {
	case event := <-b.Events():
		assert.Equal(t, "hello from b", event.Transcript)
	case <-time.After(time.Second):
		t.Fatal("adapter b never received its event")
	}
}

func TestRouterDetach(t *testing.T) {
	router := NewRouter()
	adapter := NewEventAdapter(testLogger(), "call-a")

	router.Attach("call-a", adapter)
	require.True(t, router.Attached("call-a"))

	router.Detach("call-a")
	assert.False(t, router.Attached("call-a"))

	// Detached sessions drop silently
	router.Callback()("call-a", "late result", true, nil)
	select {
	case event := <-adapter.Events():
		t.Fatalf("unexpected event after detach: %q", event.Transcript)
	default:
	}
}
