// Package reply holds the clients for the two external collaborators of
// the voice pipeline: the conversational backend that turns a caller
// utterance into response text, and the speech-synthesis service that
// turns that text into PCM audio.
package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/errors"
	"voicegate-server/pkg/metrics"
)

// Generator produces a response to a finalized caller utterance
type Generator interface {
	GenerateReply(ctx context.Context, sessionID, utterance string) (string, error)
}

// Synthesizer renders response text as 16 kHz PCM audio
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)
}

// maxSynthesisResponse caps TTS responses; a minute of PCM16k is under
// 2 MB, so anything bigger indicates a misbehaving service.
const maxSynthesisResponse = 8 << 20

// HTTPGenerator calls the conversational backend over REST
type HTTPGenerator struct {
	logger     *logrus.Logger
	serviceURL string
	httpClient *http.Client
}

// NewHTTPGenerator creates a generator client for the configured backend
func NewHTTPGenerator(logger *logrus.Logger, cfg *config.ReplyConfig) *HTTPGenerator {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &HTTPGenerator{
		logger:     logger,
		serviceURL: cfg.ServiceURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// GenerateReply posts the utterance to the backend and returns its
// response text.
func (g *HTTPGenerator) GenerateReply(ctx context.Context, sessionID, utterance string) (string, error) {
	if g.serviceURL == "" {
		return "", errors.Wrap(errors.ErrReplyGenerationFailed, "reply service not configured")
	}

	stop := metrics.ObserveReplyStage("generate")
	defer stop()

	body, err := json.Marshal(generateRequest{SessionID: sessionID, Message: utterance})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode reply request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.serviceURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build reply request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		metrics.RecordReplyError("generate")
		return "", errors.Wrap(errors.ErrReplyGenerationFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordReplyError("generate")
		return "", errors.Wrap(errors.ErrReplyGenerationFailed,
			fmt.Sprintf("reply service returned status %d", resp.StatusCode))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.RecordReplyError("generate")
		return "", errors.Wrap(errors.ErrReplyGenerationFailed, "failed to decode reply response")
	}

	if decoded.Reply == "" {
		metrics.RecordReplyError("generate")
		return "", errors.Wrap(errors.ErrReplyGenerationFailed, "reply service returned empty text")
	}

	g.logger.WithFields(logrus.Fields{
		"session_id":   sessionID,
		"reply_length": len(decoded.Reply),
	}).Debug("Reply generated")

	return decoded.Reply, nil
}

// HTTPSynthesizer calls the speech-synthesis service over REST. The
// service returns raw little-endian PCM at 16 kHz.
type HTTPSynthesizer struct {
	logger     *logrus.Logger
	serviceURL string
	httpClient *http.Client
}

// NewHTTPSynthesizer creates a synthesizer client
func NewHTTPSynthesizer(logger *logrus.Logger, cfg *config.ReplyConfig) *HTTPSynthesizer {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &HTTPSynthesizer{
		logger:     logger,
		serviceURL: cfg.TTSURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthesizeRequest struct {
	Text string `json:"text"`
}

// SynthesizeSpeech posts the text and returns the PCM payload
func (s *HTTPSynthesizer) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if s.serviceURL == "" {
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "synthesis service not configured")
	}

	stop := metrics.ObserveReplyStage("synthesize")
	defer stop()

	body, err := json.Marshal(synthesizeRequest{Text: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode synthesis request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build synthesis request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/l16")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.RecordSynthesisError("transport")
		return nil, errors.Wrap(errors.ErrSynthesisFailed, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordSynthesisError("status")
		return nil, errors.Wrap(errors.ErrSynthesisFailed,
			fmt.Sprintf("synthesis service returned status %d", resp.StatusCode))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxSynthesisResponse))
	if err != nil {
		metrics.RecordSynthesisError("read")
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "failed to read synthesis response")
	}

	if len(audio) == 0 {
		metrics.RecordSynthesisError("empty")
		return nil, errors.Wrap(errors.ErrSynthesisFailed, "synthesis service returned no audio")
	}

	s.logger.WithField("audio_bytes", len(audio)).Debug("Speech synthesized")

	return audio, nil
}
