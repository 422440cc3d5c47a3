package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/audio"
	"voicegate-server/pkg/config"
	"voicegate-server/pkg/metrics"
	"voicegate-server/pkg/reply"
	"voicegate-server/pkg/session"
	"voicegate-server/pkg/stt"
)

const (
	// closeGraceTimeout bounds how long a policy close write may take
	closeGraceTimeout = 5 * time.Second

	// pipelineTimeout bounds one reply round trip (generation, synthesis,
	// playback write) so a stuck backend releases the guard.
	pipelineTimeout = 60 * time.Second
)

// TranscriptPublisher receives call lifecycle and transcript events.
// Satisfied by dashboard.Hub.
type TranscriptPublisher interface {
	PublishCallStarted(snap session.Snapshot)
	PublishTranscript(beneficiaryID string, history []session.Turn)
	PublishCallEnded(beneficiaryID string)
}

// Bridge terminates the telephony provider's duplex media socket. Each
// accepted connection gets one goroutine reading JSON frames, a recognizer
// stream fed with decoded PCM, and a consumer goroutine turning finalized
// utterances into spoken replies.
type Bridge struct {
	logger      *logrus.Logger
	registry    *session.Registry
	hub         TranscriptPublisher
	providers   *stt.ProviderManager
	router      *stt.Router
	generator   reply.Generator
	synthesizer reply.Synthesizer

	sttVendor    string
	awaitTimeout time.Duration
	pollInterval time.Duration

	upgrader websocket.Upgrader
}

// New creates the media stream bridge
func New(logger *logrus.Logger, cfg *config.Config, registry *session.Registry,
	hub TranscriptPublisher, providers *stt.ProviderManager, router *stt.Router,
	generator reply.Generator, synthesizer reply.Synthesizer) *Bridge {

	return &Bridge{
		logger:       logger,
		registry:     registry,
		hub:          hub,
		providers:    providers,
		router:       router,
		generator:    generator,
		synthesizer:  synthesizer,
		sttVendor:    cfg.STT.Vendor,
		awaitTimeout: cfg.Session.AwaitTimeout,
		pollInterval: cfg.Session.PollInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider dials from its own infrastructure,
			// not a browser origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// mediaFrame is one inbound JSON message on the media socket
type mediaFrame struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// playAudioFrame carries synthesized speech back to the caller
type playAudioFrame struct {
	Event string `json:"event"`
	Media struct {
		ContentType string `json:"contentType"`
		SampleRate  int    `json:"sampleRate"`
		Payload     string `json:"payload"`
	} `json:"media"`
}

// HandleMediaStream serves the /media-stream websocket endpoint
func (b *Bridge) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.WithError(err).Error("Failed to upgrade media stream connection")
		return
	}
	defer conn.Close()

	key := r.URL.Query().Get("beneficiary_id")
	if key == "" {
		b.closePolicy(conn, "Missing beneficiary_id")
		return
	}

	logger := b.logger.WithField("session_key", key)

	waitStart := time.Now()
	sess, err := b.registry.AwaitRegistration(key, b.awaitTimeout, b.pollInterval)
	metrics.ObserveRegistrationWait(time.Since(waitStart))
	if err != nil {
		logger.WithError(err).Warn("Media stream arrived for an unknown session")
		b.closePolicy(conn, "Session not found")
		return
	}

	sess.SetState(session.StateAwaitingMedia)
	logger.WithFields(logrus.Fields{
		"caller_phone": sess.CallerPhone,
		"call_uuid":    sess.CallUUID,
	}).Info("Media stream attached to session")

	call := &activeCall{
		bridge:  b,
		logger:  logger,
		sess:    sess,
		conn:    conn,
		audioIn: stt.NewAudioStream(),
		adapter: stt.NewEventAdapter(b.logger, sess.SessionKey),
		guard:   &stt.ResponseGuard{},
		finish:  metrics.StartCallTimer(),
	}
	call.ctx, call.cancel = context.WithCancel(r.Context())
	defer call.teardown()

	b.router.Attach(sess.SessionKey, call.adapter)

	go call.runRecognizer()
	go call.consumeUtterances()

	call.readLoop()
}

// activeCall is the per-connection state of one bridged call
type activeCall struct {
	bridge  *Bridge
	logger  *logrus.Entry
	sess    *session.CallSession
	conn    *websocket.Conn
	audioIn *stt.AudioStream
	adapter *stt.EventAdapter
	guard   *stt.ResponseGuard
	finish  func(outcome string)

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	once    sync.Once
}

// runRecognizer streams decoded call audio into the configured provider
// until the audio stream closes or the call context is canceled. If the
// provider returns while the call is still live, the audio stream is
// closed so readLoop never blocks writing into a pipe nobody reads.
func (c *activeCall) runRecognizer() {
	err := c.bridge.providers.StreamToProvider(c.ctx, c.bridge.sttVendor, c.audioIn, c.sess.SessionKey)
	if err != nil && c.ctx.Err() == nil {
		c.logger.WithError(err).Error("Recognizer stream ended with error")
	}
	c.audioIn.Close()
}

// readLoop consumes inbound frames until the caller hangs up, the provider
// sends a stop event, or the socket fails.
func (c *activeCall) readLoop() {
	active := false

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("Media socket closed unexpectedly")
			}
			return
		}

		var frame mediaFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			metrics.RecordInvalidFrame("malformed_json")
			c.logger.WithError(err).Debug("Discarding unparseable media frame")
			continue
		}

		switch frame.Event {
		case "media":
			payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				metrics.RecordInvalidFrame("bad_base64")
				continue
			}
			if len(payload) == 0 {
				metrics.RecordInvalidFrame("empty_payload")
				continue
			}

			pcm, err := audio.DecodeMuLaw(payload)
			if err != nil {
				metrics.RecordInvalidFrame("decode_failed")
				continue
			}

			metrics.RecordMediaFrame(c.sess.SessionKey, len(payload))
			if !active {
				active = true
				c.sess.SetState(session.StateActive)
			}

			if _, err := c.audioIn.Write(pcm); err != nil {
				c.logger.WithError(err).Debug("Audio stream closed, ignoring frame")
			}

		case "stop":
			c.logger.Info("Provider signaled end of media stream")
			return

		default:
			c.logger.WithField("event", frame.Event).Debug("Ignoring unknown media event")
		}
	}
}

// consumeUtterances is the single consumer of finalized recognition
// events. Each event either claims the reply guard and runs the pipeline
// on its own goroutine, or is dropped; finals are never queued behind an
// in-flight reply.
func (c *activeCall) consumeUtterances() {
	for event := range c.adapter.Events() {
		if !c.guard.TryBegin() {
			c.logger.WithField("transcript", event.Transcript).Info("Reply in flight, dropping utterance")
			metrics.RecordDroppedUtterance(c.sess.SessionKey)
			continue
		}

		go c.runReplyPipeline(event.Transcript)
	}
}

// runReplyPipeline turns one finalized utterance into a spoken reply.
// Failures are logged and swallowed; the call keeps going either way.
func (c *activeCall) runReplyPipeline(utterance string) {
	defer c.guard.End()

	ctx, cancel := context.WithTimeout(c.ctx, pipelineTimeout)
	defer cancel()

	c.sess.AppendTurn(session.RoleUser, utterance)
	c.bridge.hub.PublishTranscript(c.sess.CallerID, c.sess.History())

	// Stage latency and failure metrics are recorded inside the
	// generator and synthesizer clients.
	replyText, err := c.bridge.generator.GenerateReply(ctx, c.sess.SessionKey, utterance)
	if err != nil {
		c.logger.WithError(err).Error("Reply generation failed")
		return
	}

	c.sess.AppendTurn(session.RoleBot, replyText)
	c.bridge.hub.PublishTranscript(c.sess.CallerID, c.sess.History())

	pcm, err := c.bridge.synthesizer.SynthesizeSpeech(ctx, replyText)
	if err != nil {
		c.logger.WithError(err).Error("Speech synthesis failed")
		return
	}

	muLaw, err := audio.EncodePCM(pcm)
	if err != nil {
		metrics.RecordReplyError("encode")
		c.logger.WithError(err).Error("Playback encoding failed")
		return
	}

	if err := c.sendPlayback(muLaw); err != nil {
		metrics.RecordReplyError("playback")
		c.logger.WithError(err).Warn("Failed to send playback audio")
		return
	}
	metrics.RecordPlaybackBytes(c.sess.SessionKey, len(muLaw))
}

// sendPlayback writes a playAudio frame to the caller's socket
func (c *activeCall) sendPlayback(muLaw []byte) error {
	frame := playAudioFrame{Event: "playAudio"}
	frame.Media.ContentType = "audio/x-mulaw"
	frame.Media.SampleRate = audio.TelephonyRate
	frame.Media.Payload = base64.StdEncoding.EncodeToString(muLaw)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// teardown releases everything the call holds. Runs exactly once no
// matter how many paths reach it: stop event, socket error, and handler
// return all funnel here.
func (c *activeCall) teardown() {
	c.once.Do(func() {
		c.cancel()
		c.audioIn.Close()
		c.adapter.Close()
		c.bridge.router.Detach(c.sess.SessionKey)

		c.sess.SetState(session.StateEnded)
		c.bridge.hub.PublishCallEnded(c.sess.CallerID)
		c.bridge.registry.Remove(c.sess.SessionKey)

		c.finish("completed")
		c.logger.Info("Call session closed")
	})
}

// closePolicy rejects the socket with close code 1008 and a reason the
// provider logs on its side.
func (b *Bridge) closePolicy(conn *websocket.Conn, reason string) {
	message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	deadline := time.Now().Add(closeGraceTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		b.logger.WithError(err).Debug("Failed to write policy close frame")
	}
}
