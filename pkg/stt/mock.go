package stt

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MockProvider implements a scripted speech-to-text provider for tests
// and local development.
type MockProvider struct {
	logger   *logrus.Logger
	callback RecognitionCallback

	// Script is the sequence of utterances emitted while audio flows.
	// When empty a default script is used.
	Script []string

	// Interval between scripted utterances
	Interval time.Duration
}

// NewMockProvider creates a new mock provider
func NewMockProvider(logger *logrus.Logger) *MockProvider {
	return &MockProvider{
		logger:   logger,
		Interval: 2 * time.Second,
	}
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// Initialize initializes the mock provider
func (p *MockProvider) Initialize() error {
	p.logger.Info("Mock STT provider initialized")
	return nil
}

var defaultScript = []string{
	"Hello, I want to check my application status.",
	"My registration number is nine four two one.",
	"When will the next installment be credited?",
	"Thank you for the information.",
}

// StreamToText consumes the audio stream and emits scripted utterances
// at a fixed interval, each preceded by an interim result.
func (p *MockProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	p.logger.WithField("session_id", sessionID).Info("Mock STT provider processing audio stream")

	script := p.Script
	if len(script) == 0 {
		script = defaultScript
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	scriptIndex := 0
	streamDone := make(chan struct{})

	// Drain the audio stream so writers never block
	go func() {
		defer close(streamDone)
		buffer := make([]byte, 1024)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if _, err := audioStream.Read(buffer); err != nil {
					if err != io.EOF && err != io.ErrClosedPipe {
						p.logger.WithError(err).WithField("session_id", sessionID).Error("Error reading audio stream")
					}
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("session_id", sessionID).Info("Mock STT processing stopped")
			return nil
		case <-streamDone:
			p.logger.WithField("session_id", sessionID).Info("Mock STT stream finished")
			return nil
		case <-ticker.C:
			utterance := script[scriptIndex]
			scriptIndex = (scriptIndex + 1) % len(script)

			if p.callback == nil {
				continue
			}

			words := strings.Fields(utterance)
			if len(words) > 3 {
				interim := strings.Join(words[:len(words)/2], " ")
				p.callback(sessionID, interim, false, map[string]interface{}{
					"provider": p.Name(),
					"interim":  true,
				})
			}

			p.callback(sessionID, utterance, true, map[string]interface{}{
				"provider":   p.Name(),
				"confidence": 0.95,
				"word_count": len(words),
			})
		}
	}
}

// SetCallback sets the callback function for recognition results
func (p *MockProvider) SetCallback(callback RecognitionCallback) {
	p.callback = callback
}
