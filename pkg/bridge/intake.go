package bridge

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/errors"
	"voicegate-server/pkg/lookup"
	"voicegate-server/pkg/session"
)

// streamTimeoutSeconds keeps the provider's media stream open for the
// whole call; the stream ends when the call does.
const streamTimeoutSeconds = 86400

// Intake answers the telephony provider's call webhook. It resolves the
// caller, registers the session, announces it to observers, and returns
// the XML document instructing the provider to speak the greeting and
// open the bidirectional media stream.
type Intake struct {
	logger   *logrus.Logger
	registry *session.Registry
	hub      TranscriptPublisher
	resolver lookup.Resolver
	greeting config.GreetingConfig
	baseURL  string
}

// NewIntake creates the incoming-call handler
func NewIntake(logger *logrus.Logger, cfg *config.Config, registry *session.Registry,
	hub TranscriptPublisher, resolver lookup.Resolver) *Intake {

	return &Intake{
		logger:   logger,
		registry: registry,
		hub:      hub,
		resolver: resolver,
		greeting: cfg.Greeting,
		baseURL:  cfg.HTTP.ExternalBaseURL,
	}
}

type speakElement struct {
	XMLName  xml.Name `xml:"Speak"`
	Voice    string   `xml:"voice,attr"`
	Language string   `xml:"language,attr"`
	Text     string   `xml:",chardata"`
}

type streamElement struct {
	XMLName       xml.Name `xml:"Stream"`
	Bidirectional bool     `xml:"bidirectional,attr"`
	KeepCallAlive bool     `xml:"keepCallAlive,attr"`
	StreamTimeout int      `xml:"streamTimeout,attr"`
	ContentType   string   `xml:"contentType,attr"`
	AudioTrack    string   `xml:"audioTrack,attr"`
	URL           string   `xml:",chardata"`
}

type callControlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Speak   speakElement
	Stream  streamElement
}

// HandleIncomingCall serves the /incoming-call webhook
func (i *Intake) HandleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		i.logger.WithError(err).Warn("Failed to parse incoming call form")
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	callerPhone := r.FormValue("From")
	if callerPhone == "" {
		callerPhone = "unknown"
	}
	callUUID := r.FormValue("CallUUID")
	if callUUID == "" {
		callUUID = uuid.New().String()
	}

	logger := i.logger.WithFields(logrus.Fields{
		"caller_phone": callerPhone,
		"call_uuid":    callUUID,
	})

	callerID, callerName := i.identifyCaller(r, callerPhone, logger)

	sess := session.NewCallSession(callerID, callerPhone, callerName, callUUID)
	i.registry.Put(sess.SessionKey, sess)
	i.hub.PublishCallStarted(sess.Snapshot())

	logger.WithFields(logrus.Fields{
		"session_key": sess.SessionKey,
		"caller_name": callerName,
	}).Info("Incoming call registered")

	doc := callControlResponse{
		Speak: speakElement{
			Voice:    i.greeting.Voice,
			Language: i.greeting.Language,
			Text:     i.greetingText(callerName),
		},
		Stream: streamElement{
			Bidirectional: true,
			KeepCallAlive: true,
			StreamTimeout: streamTimeoutSeconds,
			ContentType:   "audio/x-mulaw;rate=8000",
			AudioTrack:    "inbound",
			URL:           i.mediaStreamURL(sess.SessionKey),
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		logger.WithError(err).Error("Failed to render call control document")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, xml.Header)
	w.Write(body)
}

// identifyCaller resolves the caller's account from the dialing number.
// Lookup failures of any kind fall back to an anonymous identity; a call
// is never rejected because the directory is down or the number unknown.
func (i *Intake) identifyCaller(r *http.Request, callerPhone string, logger *logrus.Entry) (string, string) {
	record, err := i.resolver.ResolveCaller(r.Context(), callerPhone)
	if err == nil {
		return strconv.FormatInt(record.BeneficiaryID, 10), record.FullName
	}

	switch {
	case errors.IsErrorType(err, errors.ErrCallerNotFound):
		logger.Info("Caller not enrolled, using anonymous identity")
	case errors.IsErrorType(err, errors.ErrLookupUnavailable):
		logger.WithError(err).Warn("Caller lookup unavailable, using anonymous identity")
	default:
		logger.WithError(err).Warn("Caller lookup failed, using anonymous identity")
	}

	return fmt.Sprintf("unknown_%d", time.Now().UnixNano()), ""
}

// greetingText fills the {name} marker with the caller's first name, or
// removes it for anonymous callers.
func (i *Intake) greetingText(callerName string) string {
	text := i.greeting.Text

	first := ""
	if fields := strings.Fields(callerName); len(fields) > 0 {
		first = fields[0]
	}

	if first != "" {
		return strings.ReplaceAll(text, "{name}", first)
	}
	text = strings.ReplaceAll(text, " {name}", "")
	return strings.ReplaceAll(text, "{name}", "")
}

// mediaStreamURL builds the websocket address the provider dials back to
func (i *Intake) mediaStreamURL(sessionKey string) string {
	return fmt.Sprintf("%s/media-stream?beneficiary_id=%s", i.baseURL, url.QueryEscape(sessionKey))
}
