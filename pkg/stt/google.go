package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/errors"
	"voicegate-server/pkg/metrics"
)

// GoogleProvider implements the Provider interface for Google
// Speech-to-Text streaming recognition.
type GoogleProvider struct {
	logger   *logrus.Logger
	client   *speech.Client
	config   *config.GoogleSTTConfig
	language string
	hints    []string

	callback RecognitionCallback
}

// NewGoogleProvider creates a new Google Speech-to-Text provider
func NewGoogleProvider(logger *logrus.Logger, cfg *config.GoogleSTTConfig, language string, hints []string) *GoogleProvider {
	return &GoogleProvider{
		logger:   logger,
		config:   cfg,
		language: language,
		hints:    hints,
	}
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Initialize initializes the Google Speech-to-Text client
func (p *GoogleProvider) Initialize() error {
	if p.config == nil {
		return fmt.Errorf("Google STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Google STT is disabled, skipping initialization")
		return nil
	}

	var clientOptions []option.ClientOption

	if p.config.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(p.config.APIKey))
		p.logger.Debug("Using Google STT API key authentication")
	} else if p.config.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(p.config.CredentialsFile))
		p.logger.WithField("credentials_file", p.config.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		return fmt.Errorf("Google STT requires either API key or credentials file")
	}

	var err error
	p.client, err = speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		p.logger.WithError(err).Error("Failed to create Google Speech client")
		return fmt.Errorf("failed to create Google Speech client: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"language":       p.language,
		"language_hints": p.hints,
		"sample_rate":    p.config.SampleRate,
		"model":          p.config.Model,
	}).Info("Google Speech-to-Text client initialized")
	return nil
}

// StreamToText streams PCM audio to Google Speech-to-Text and delivers
// interim and final results through the callback.
func (p *GoogleProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	if p.client == nil {
		return errors.ErrInitializationFailed
	}

	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start Google Speech-to-Text stream")
		return err
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(p.config.SampleRate),
		LanguageCode:               p.language,
		AlternativeLanguageCodes:   p.hints,
		EnableAutomaticPunctuation: p.config.EnableAutomaticPunctuation,
		MaxAlternatives:            int32(p.config.MaxAlternatives),
	}

	if p.config.Model != "" {
		recognitionConfig.Model = p.config.Model
	}

	streamingConfig := &speechpb.StreamingRecognitionConfig{
		Config:         recognitionConfig,
		InterimResults: true,
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig,
		},
	}); err != nil {
		p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to send streaming config")
		return err
	}

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})

	// Audio sender
	go func() {
		defer close(doneChan)
		buffer := make([]byte, 1024)
		for {
			select {
			case <-ctx.Done():
				stream.CloseSend()
				return
			default:
				n, err := audioStream.Read(buffer)
				if err == io.EOF {
					stream.CloseSend()
					return
				}
				if err != nil {
					if err != io.ErrClosedPipe {
						p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to read audio stream")
						errChan <- err
					} else {
						stream.CloseSend()
					}
					return
				}

				metrics.RecordSTTBytes(p.Name(), n)

				if err := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buffer[:n],
					},
				}); err != nil {
					p.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to send audio content to Google Speech-to-Text")
					errChan <- err
					return
				}
			}
		}
	}()

	// Result receiver
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				resp, err := stream.Recv()
				if err == io.EOF {
					return
				}
				if err != nil {
					if ctx.Err() == nil {
						p.logger.WithError(err).WithField("session_id", sessionID).Error("Error receiving streaming response")
						metrics.RecordSTTError(p.Name(), "recv")
						errChan <- err
					}
					return
				}

				p.handleResponse(resp, sessionID)
			}
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-doneChan:
		return nil
	}
}

func (p *GoogleProvider) handleResponse(resp *speechpb.StreamingRecognizeResponse, sessionID string) {
	for _, result := range resp.Results {
		for _, alt := range result.Alternatives {
			transcript := alt.Transcript
			if transcript == "" {
				continue
			}

			metadata := map[string]interface{}{
				"provider":      p.Name(),
				"confidence":    alt.Confidence,
				"word_count":    len(strings.Fields(transcript)),
				"language_code": result.LanguageCode,
			}

			if result.IsFinal {
				p.logger.WithFields(logrus.Fields{
					"session_id":    sessionID,
					"transcript":    transcript,
					"language_code": result.LanguageCode,
				}).Info("Received final transcription")
			} else {
				p.logger.WithFields(logrus.Fields{
					"session_id": sessionID,
					"transcript": transcript,
				}).Debug("Received interim transcription")
			}

			if p.callback != nil {
				p.callback(sessionID, transcript, result.IsFinal, metadata)
			}
		}
	}
}

// SetCallback sets the callback function for recognition results
func (p *GoogleProvider) SetCallback(callback RecognitionCallback) {
	p.callback = callback
}
