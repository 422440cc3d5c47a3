package config

import (
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

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "google", cfg.STT.Vendor)
	assert.Equal(t, "en-IN", cfg.STT.Language)
	assert.Equal(t, 10*time.Second, cfg.Session.AwaitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Dashboard.PingInterval)
	assert.Equal(t, "voicegate_transcripts", cfg.Messaging.QueueName)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STT_VENDOR", "mock")
	t.Setenv("SESSION_AWAIT_TIMEOUT", "5s")
	t.Setenv("STT_LANGUAGE_HINTS", "hi-IN, mr-IN ,en-IN")
	t.Setenv("EXTERNAL_BASE_URL", "wss://gw.example.org/")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "mock", cfg.STT.Vendor)
	assert.Equal(t, 5*time.Second, cfg.Session.AwaitTimeout)
	assert.Equal(t, []string{"hi-IN", "mr-IN", "en-IN"}, cfg.STT.LanguageHints)
	assert.Equal(t, "wss://gw.example.org", cfg.HTTP.ExternalBaseURL,
		"trailing slash should be trimmed")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"invalid port", "HTTP_PORT", "70000"},
		{"unknown vendor", "STT_VENDOR", "whisper"},
		{"zero await timeout", "SESSION_AWAIT_TIMEOUT", "0s"},
		{"poll exceeds await", "SESSION_POLL_INTERVAL", "30s"},
		{"bad log level", "LOG_LEVEL", "verbose"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)

			_, err := Load(testLogger())
			assert.Error(t, err)
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL_ON", "yes")
	t.Setenv("TEST_BOOL_OFF", "0")
	t.Setenv("TEST_INT_BAD", "not-a-number")
	t.Setenv("TEST_DURATION", "1500ms")

	assert.True(t, getEnvBool("TEST_BOOL_ON", false))
	assert.False(t, getEnvBool("TEST_BOOL_OFF", true))
	assert.True(t, getEnvBool("TEST_BOOL_MISSING", true))
	assert.Equal(t, 42, getEnvInt("TEST_INT_BAD", 42))
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("TEST_DURATION", time.Second))
}

func TestConfigureLogger(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug", Format: "text"}}

	logger := logrus.New()
	cfg.ConfigureLogger(logger)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
