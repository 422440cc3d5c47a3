package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/bridge"
	"voicegate-server/pkg/config"
	"voicegate-server/pkg/dashboard"
	"voicegate-server/pkg/errors"
	http_server "voicegate-server/pkg/http"
	"voicegate-server/pkg/lookup"
	"voicegate-server/pkg/messaging"
	"voicegate-server/pkg/metrics"
	"voicegate-server/pkg/reply"
	"voicegate-server/pkg/session"
	"voicegate-server/pkg/stt"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Gateway failed")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	cfg.ConfigureLogger(logger)

	metrics.StartMetrics(logger, cfg.Metrics.Enabled)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	registry := session.NewRegistry(logger)

	hub := dashboard.NewHub(logger, registry, cfg.Dashboard.PingInterval)
	amqpClient := setupTranscriptExport(logger, cfg, hub)
	if amqpClient != nil {
		defer amqpClient.Disconnect()
	}
	go hub.Run(rootCtx)

	router := stt.NewRouter()
	providers, err := setupSpeechProviders(logger, cfg, router)
	if err != nil {
		return err
	}

	resolver := setupCallerLookup(logger, cfg)
	if closer, ok := resolver.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	generator := reply.NewHTTPGenerator(logger, &cfg.Reply)
	synthesizer := reply.NewHTTPSynthesizer(logger, &cfg.Reply)

	mediaBridge := bridge.New(logger, cfg, registry, hub, providers, router, generator, synthesizer)
	intake := bridge.NewIntake(logger, cfg, registry, hub, resolver)

	server := http_server.NewServer(logger, &cfg.HTTP, registry, hub)
	server.RegisterHandler("/incoming-call", intake.HandleIncomingCall)
	server.RegisterHandler("/media-stream", mediaBridge.HandleMediaStream)
	server.RegisterHandler("/call-center-ws", hub.ServeWs)
	server.Start()

	logger.WithFields(logrus.Fields{
		"port":       cfg.HTTP.Port,
		"stt_vendor": cfg.STT.Vendor,
	}).Info("Voice gateway started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	// Stops the hub fan-out loop and any in-flight reply pipelines
	rootCancel()

	logger.Info("Voice gateway stopped")
	return nil
}

// setupTranscriptExport wires the optional AMQP transcript exporter.
// A broker outage at startup is tolerated; the client reconnects in the
// background while the hub keeps serving dashboard observers.
func setupTranscriptExport(logger *logrus.Logger, cfg *config.Config, hub *dashboard.Hub) *messaging.AMQPClient {
	if cfg.Messaging.AMQPUrl == "" {
		logger.Info("AMQP not configured, transcript export disabled")
		return nil
	}

	client := messaging.NewAMQPClient(logger, messaging.AMQPConfig{
		URL:       cfg.Messaging.AMQPUrl,
		QueueName: cfg.Messaging.QueueName,
		Durable:   true,
	})
	if err := client.Connect(); err != nil {
		logger.WithError(err).Warn("AMQP connection failed, transcript export degraded until reconnect")
	}

	hub.AddExporter(messaging.NewEventExporter(logger, client))
	return client
}

// setupSpeechProviders registers the configured recognizers and installs
// the session router as their shared callback.
func setupSpeechProviders(logger *logrus.Logger, cfg *config.Config, router *stt.Router) (*stt.ProviderManager, error) {
	manager := stt.NewProviderManager(logger, cfg.STT.Vendor)

	var candidates []stt.Provider
	if cfg.STT.Google.Enabled {
		candidates = append(candidates, stt.NewGoogleProvider(logger, &cfg.STT.Google, cfg.STT.Language, cfg.STT.LanguageHints))
	}
	if cfg.STT.Amazon.Enabled {
		candidates = append(candidates, stt.NewAmazonTranscribeProvider(logger, &cfg.STT.Amazon, cfg.STT.Language))
	}
	if cfg.STT.Vendor == "mock" {
		candidates = append(candidates, stt.NewMockProvider(logger))
	}

	registered := 0
	for _, provider := range candidates {
		if err := manager.RegisterProvider(provider); err != nil {
			logger.WithError(err).WithField("provider", provider.Name()).Warn("Speech provider failed to initialize, skipping")
			continue
		}
		if streaming, ok := provider.(stt.StreamingProvider); ok {
			streaming.SetCallback(router.Callback())
		}
		registered++
	}

	if registered == 0 {
		return nil, errors.Wrap(errors.ErrNoProviderAvailable, "no speech provider could be registered")
	}

	logger.WithFields(logrus.Fields{
		"providers": registered,
		"default":   cfg.STT.Vendor,
	}).Info("Speech providers ready")
	return manager, nil
}

// setupCallerLookup connects the beneficiary directory when configured.
// Without a DSN every caller gets an anonymous identity.
func setupCallerLookup(logger *logrus.Logger, cfg *config.Config) lookup.Resolver {
	if cfg.Database.DSN == "" {
		logger.Info("Caller lookup database not configured, callers will be anonymous")
		return lookup.Disabled{}
	}

	resolver, err := lookup.NewMySQLResolver(logger, &cfg.Database)
	if err != nil {
		logger.WithError(err).Warn("Caller lookup database unavailable, callers will be anonymous")
		return lookup.Disabled{}
	}
	return resolver
}
