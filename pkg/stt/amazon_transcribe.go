package stt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/config"
	"voicegate-server/pkg/errors"
	"voicegate-server/pkg/metrics"
)

// AmazonTranscribeProvider implements the Provider interface for Amazon
// Transcribe streaming.
type AmazonTranscribeProvider struct {
	logger   *logrus.Logger
	client   *transcribestreaming.Client
	config   *config.AmazonSTTConfig
	language string
	mutex    sync.RWMutex

	callback RecognitionCallback
}

// NewAmazonTranscribeProvider creates a new Amazon Transcribe provider
func NewAmazonTranscribeProvider(logger *logrus.Logger, cfg *config.AmazonSTTConfig, language string) *AmazonTranscribeProvider {
	return &AmazonTranscribeProvider{
		logger:   logger,
		config:   cfg,
		language: language,
	}
}

// Name returns the provider name
func (p *AmazonTranscribeProvider) Name() string {
	return "amazon-transcribe"
}

// Initialize initializes the Amazon Transcribe client
func (p *AmazonTranscribeProvider) Initialize() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.config == nil {
		return fmt.Errorf("Amazon STT configuration is required")
	}

	if !p.config.Enabled {
		p.logger.Info("Amazon STT is disabled, skipping initialization")
		return nil
	}

	if p.config.AccessKeyID == "" || p.config.SecretAccessKey == "" {
		return fmt.Errorf("Amazon STT requires AWS access key ID and secret access key")
	}

	region := p.config.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     p.config.AccessKeyID,
				SecretAccessKey: p.config.SecretAccessKey,
			}, nil
		})),
	)
	if err != nil {
		p.logger.WithError(err).Error("Failed to load AWS configuration")
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	p.client = transcribestreaming.NewFromConfig(cfg)

	p.logger.WithFields(logrus.Fields{
		"region":      region,
		"language":    p.language,
		"sample_rate": p.config.SampleRate,
	}).Info("Amazon Transcribe provider initialized")

	return nil
}

// StreamToText streams PCM audio to Amazon Transcribe
func (p *AmazonTranscribeProvider) StreamToText(ctx context.Context, audioStream io.Reader, sessionID string) error {
	p.mutex.RLock()
	if p.client == nil {
		p.mutex.RUnlock()
		return errors.ErrInitializationFailed
	}
	p.mutex.RUnlock()

	logger := p.logger.WithField("session_id", sessionID)
	logger.Info("Starting Amazon Transcribe streaming transcription")

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(p.language),
		MediaSampleRateHertz: aws.Int32(int32(p.config.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	}

	resp, err := p.client.StartStreamTranscription(ctx, input)
	if err != nil {
		logger.WithError(err).Error("Failed to start Amazon Transcribe stream")
		metrics.RecordSTTError(p.Name(), "start")
		return fmt.Errorf("failed to start transcription stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 2)
	doneChan := make(chan struct{})

	// Audio sender
	go func() {
		defer func() {
			if closeErr := resp.GetStream().Close(); closeErr != nil {
				logger.WithError(closeErr).Debug("Failed to close stream")
			}
		}()

		buffer := make([]byte, 1024)
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-doneChan:
				return
			default:
				n, readErr := audioStream.Read(buffer)
				if readErr == io.EOF || readErr == io.ErrClosedPipe {
					logger.Debug("Audio stream ended")
					return
				}
				if readErr != nil {
					logger.WithError(readErr).Error("Failed to read from audio stream")
					errChan <- readErr
					return
				}

				if n > 0 {
					metrics.RecordSTTBytes(p.Name(), n)

					audioEvent := &types.AudioStreamMemberAudioEvent{
						Value: types.AudioEvent{
							AudioChunk: buffer[:n],
						},
					}

					if sendErr := resp.GetStream().Send(streamCtx, audioEvent); sendErr != nil {
						logger.WithError(sendErr).Error("Failed to send audio to Amazon Transcribe")
						errChan <- sendErr
						return
					}
				}
			}
		}
	}()

	// Result receiver
	go func() {
		defer close(doneChan)

		for event := range resp.GetStream().Events() {
			select {
			case <-streamCtx.Done():
				return
			default:
				if event != nil {
					p.processTranscriptionEvent(event, sessionID, logger)
				}
			}
		}

		if streamErr := resp.GetStream().Err(); streamErr != nil {
			logger.WithError(streamErr).Error("Amazon Transcribe stream error")
			metrics.RecordSTTError(p.Name(), "stream")
			errChan <- streamErr
		}
	}()

	select {
	case err := <-errChan:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-doneChan:
		cancel()
		return nil
	}
}

func (p *AmazonTranscribeProvider) processTranscriptionEvent(event types.TranscriptResultStream, sessionID string, logger *logrus.Entry) {
	switch v := event.(type) {
	case *types.TranscriptResultStreamMemberTranscriptEvent:
		p.processTranscriptEvent(v.Value, sessionID, logger)
	default:
		logger.WithField("event_type", fmt.Sprintf("%T", v)).Debug("Unknown transcription event type")
	}
}

func (p *AmazonTranscribeProvider) processTranscriptEvent(event types.TranscriptEvent, sessionID string, logger *logrus.Entry) {
	if event.Transcript == nil || event.Transcript.Results == nil {
		return
	}

	for _, result := range event.Transcript.Results {
		if result.Alternatives == nil {
			continue
		}

		for _, alternative := range result.Alternatives {
			if alternative.Transcript == nil || *alternative.Transcript == "" {
				continue
			}

			transcript := *alternative.Transcript
			isFinal := !result.IsPartial

			metadata := map[string]interface{}{
				"provider":   p.Name(),
				"word_count": len(strings.Fields(transcript)),
				"is_partial": result.IsPartial,
			}

			if result.ResultId != nil {
				metadata["result_id"] = *result.ResultId
			}
			if result.LanguageCode != "" {
				metadata["language_code"] = string(result.LanguageCode)
			}

			logger.WithFields(logrus.Fields{
				"transcript": transcript,
				"is_final":   isFinal,
			}).Debug("Received transcription from Amazon Transcribe")

			if p.callback != nil {
				p.callback(sessionID, transcript, isFinal, metadata)
			}
		}
	}
}

// SetCallback sets the callback function for recognition results
func (p *AmazonTranscribeProvider) SetCallback(callback RecognitionCallback) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callback = callback
}

// Close gracefully closes the provider
func (p *AmazonTranscribeProvider) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.client != nil {
		p.logger.Info("Amazon Transcribe provider closed")
		p.client = nil
	}

	return nil
}
