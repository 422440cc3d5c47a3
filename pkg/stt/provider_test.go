package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server/pkg/errors"
)

func TestProviderManagerRegistersAndFetches(t *testing.T) {
	manager := NewProviderManager(testLogger(), "mock")

	mock := NewMockProvider(testLogger())
	require.NoError(t, manager.RegisterProvider(mock))

	got, ok := manager.GetProvider("mock")
	assert.True(t, ok)
	assert.Equal(t, "mock", got.Name())

	_, ok = manager.GetProvider("google")
	assert.False(t, ok)
}

func TestStreamToProviderFallsBackToDefault(t *testing.T) {
	manager := NewProviderManager(testLogger(), "mock")

	mock := NewMockProvider(testLogger())
	mock.Interval = 10 * time.Millisecond
	require.NoError(t, manager.RegisterProvider(mock))

	stream := NewAudioStream()
	stream.Close()

	// Unknown vendor falls back to the registered default
	err := manager.StreamToProvider(context.Background(), "nonexistent", stream, "sess-1")
	assert.NoError(t, err)
}

func TestStreamToProviderNoProviders(t *testing.T) {
	manager := NewProviderManager(testLogger(), "mock")

	stream := NewAudioStream()
	defer stream.Close()

	err := manager.StreamToProvider(context.Background(), "google", stream, "sess-1")
	assert.ErrorIs(t, err, errors.ErrNoProviderAvailable)
}

func TestMockProviderEmitsScriptedUtterances(t *testing.T) {
	mock := NewMockProvider(testLogger())
	mock.Interval = 10 * time.Millisecond
	mock.Script = []string{"scripted line one", "scripted line two"}
	require.NoError(t, mock.Initialize())

	adapter := NewEventAdapter(testLogger(), "sess-mock")
	defer adapter.Close()
	mock.SetCallback(adapter.Callback())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := NewAudioStream()
	go func() {
		// Keep some audio flowing, then end the stream
		for i := 0; i < 5; i++ {
			if _, err := stream.Write(make([]byte, 320)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		stream.Close()
	}()

	done := make(chan error, 1)
	go func() {
		done <- mock.StreamToText(ctx, stream, "sess-mock")
	}()

	select {
	case event := <-adapter.Events():
		assert.Equal(t, "scripted line one", event.Transcript)
		assert.Equal(t, "mock", event.Metadata["provider"])
	case <-time.After(2 * time.Second):
		t.Fatal("no scripted utterance emitted")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mock provider did not stop")
	}
}
