package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voicegate-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Session   SessionConfig   `json:"session"`
	Dashboard DashboardConfig `json:"dashboard"`
	STT       STTConfig       `json:"stt"`
	Database  DatabaseConfig  `json:"database"`
	Reply     ReplyConfig     `json:"reply"`
	Messaging MessagingConfig `json:"messaging"`
	Greeting  GreetingConfig  `json:"greeting"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// HTTPConfig holds the listener and external address configuration
type HTTPConfig struct {
	Port int `json:"port" env:"HTTP_PORT" default:"8080"`

	// ExternalBaseURL is the address the telephony provider dials back to
	// for the media stream, e.g. "wss://gw.example.org".
	ExternalBaseURL string        `json:"external_base_url" env:"EXTERNAL_BASE_URL"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// SessionConfig holds registry timing configuration
type SessionConfig struct {
	AwaitTimeout time.Duration `json:"await_timeout" env:"SESSION_AWAIT_TIMEOUT" default:"10s"`
	PollInterval time.Duration `json:"poll_interval" env:"SESSION_POLL_INTERVAL" default:"500ms"`
}

// DashboardConfig holds observer socket configuration
type DashboardConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"OBSERVER_PING_INTERVAL" default:"30s"`
}

// STTConfig holds speech-to-text configuration
type STTConfig struct {
	// Vendor selects the recognizer: google, amazon, or mock
	Vendor string `json:"vendor" env:"STT_VENDOR" default:"google"`

	// Language is the primary recognition language
	Language string `json:"language" env:"STT_LANGUAGE" default:"en-IN"`

	// LanguageHints are alternate languages offered to the recognizer
	LanguageHints []string `json:"language_hints" env:"STT_LANGUAGE_HINTS"`

	Google GoogleSTTConfig `json:"google"`
	Amazon AmazonSTTConfig `json:"amazon"`
}

// GoogleSTTConfig holds Google Speech-to-Text configuration
type GoogleSTTConfig struct {
	Enabled                    bool   `json:"enabled"`
	CredentialsFile            string `json:"credentials_file"`
	APIKey                     string `json:"-"`
	Model                      string `json:"model"`
	SampleRate                 int    `json:"sample_rate"`
	EnableAutomaticPunctuation bool   `json:"auto_punctuation"`
	MaxAlternatives            int    `json:"max_alternatives"`
}

// AmazonSTTConfig holds Amazon Transcribe configuration
type AmazonSTTConfig struct {
	Enabled         bool   `json:"enabled"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	SampleRate      int    `json:"sample_rate"`
}

// DatabaseConfig holds the caller lookup database configuration
type DatabaseConfig struct {
	// DSN is a go-sql-driver/mysql data source name
	DSN             string        `json:"-" env:"DB_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"5m"`
	QueryTimeout    time.Duration `json:"query_timeout" env:"DB_QUERY_TIMEOUT" default:"3s"`
}

// ReplyConfig holds the conversational backend and synthesis endpoints
type ReplyConfig struct {
	ServiceURL string        `json:"reply_service_url" env:"REPLY_SERVICE_URL"`
	TTSURL     string        `json:"tts_service_url" env:"TTS_SERVICE_URL"`
	Timeout    time.Duration `json:"timeout" env:"REPLY_TIMEOUT" default:"30s"`
}

// MessagingConfig holds AMQP export configuration
type MessagingConfig struct {
	AMQPUrl   string `json:"-" env:"AMQP_URL"`
	QueueName string `json:"queue_name" env:"AMQP_QUEUE_NAME" default:"voicegate_transcripts"`
}

// GreetingConfig holds the call-answer greeting configuration
type GreetingConfig struct {
	// Text is the greeting spoken when a call is answered. The marker
	// {name} is replaced with the caller's first name when known.
	Text     string `json:"text" env:"GREETING_TEXT"`
	Voice    string `json:"voice" env:"GREETING_VOICE" default:"WOMAN"`
	Language string `json:"language" env:"GREETING_LANGUAGE" default:"mr-IN"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool `json:"enabled" env:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from a .env file (if present) and the
// environment, applies defaults, and validates the result.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	possibleEnvFiles := []string{
		".env",
		"../.env",
		filepath.Join(wd, ".env"),
	}

	var loadedFrom string
	for _, envFile := range possibleEnvFiles {
		if _, statErr := os.Stat(envFile); statErr == nil {
			absPath, _ := filepath.Abs(envFile)
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom = absPath
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithFields(logrus.Fields{
			"working_dir": wd,
			"path":        loadedFrom,
		}).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	config := &Config{}

	loadHTTPConfig(&config.HTTP)
	loadLoggingConfig(&config.Logging)
	loadSessionConfig(&config.Session)
	loadDashboardConfig(&config.Dashboard)
	loadSTTConfig(logger, &config.STT)
	loadDatabaseConfig(&config.Database)
	loadReplyConfig(&config.Reply)
	loadMessagingConfig(&config.Messaging)
	loadGreetingConfig(&config.Greeting)
	config.Metrics.Enabled = getEnvBool("METRICS_ENABLED", true)

	if err := config.Validate(logger); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadHTTPConfig(config *HTTPConfig) {
	config.Port = getEnvInt("HTTP_PORT", 8080)
	config.ExternalBaseURL = strings.TrimRight(getEnv("EXTERNAL_BASE_URL", ""), "/")
	config.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second)
	config.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
}

func loadLoggingConfig(config *LoggingConfig) {
	config.Level = getEnv("LOG_LEVEL", "info")
	config.Format = getEnv("LOG_FORMAT", "json")
}

func loadSessionConfig(config *SessionConfig) {
	config.AwaitTimeout = getEnvDuration("SESSION_AWAIT_TIMEOUT", 10*time.Second)
	config.PollInterval = getEnvDuration("SESSION_POLL_INTERVAL", 500*time.Millisecond)
}

func loadDashboardConfig(config *DashboardConfig) {
	config.PingInterval = getEnvDuration("OBSERVER_PING_INTERVAL", 30*time.Second)
}

func loadSTTConfig(logger *logrus.Logger, config *STTConfig) {
	config.Vendor = strings.ToLower(getEnv("STT_VENDOR", "google"))
	config.Language = getEnv("STT_LANGUAGE", "en-IN")
	config.LanguageHints = getEnvList("STT_LANGUAGE_HINTS", []string{"hi-IN", "mr-IN"})

	config.Google.Enabled = config.Vendor == "google"
	config.Google.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	config.Google.APIKey = getEnv("GOOGLE_STT_API_KEY", "")
	config.Google.Model = getEnv("GOOGLE_STT_MODEL", "latest_long")
	config.Google.SampleRate = getEnvInt("GOOGLE_STT_SAMPLE_RATE", 16000)
	config.Google.EnableAutomaticPunctuation = getEnvBool("GOOGLE_STT_AUTO_PUNCTUATION", true)
	config.Google.MaxAlternatives = getEnvInt("GOOGLE_STT_MAX_ALTERNATIVES", 1)

	config.Amazon.Enabled = config.Vendor == "amazon"
	config.Amazon.Region = getEnv("AWS_REGION", "us-east-1")
	config.Amazon.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	config.Amazon.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	config.Amazon.SampleRate = getEnvInt("AMAZON_STT_SAMPLE_RATE", 16000)

	if config.Google.Enabled && config.Google.CredentialsFile == "" && config.Google.APIKey == "" {
		logger.Warn("Google STT selected but neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_STT_API_KEY is set")
	}
}

func loadDatabaseConfig(config *DatabaseConfig) {
	config.DSN = getEnv("DB_DSN", "")
	config.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	config.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	config.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	config.QueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 3*time.Second)
}

func loadReplyConfig(config *ReplyConfig) {
	config.ServiceURL = getEnv("REPLY_SERVICE_URL", "")
	config.TTSURL = getEnv("TTS_SERVICE_URL", "")
	config.Timeout = getEnvDuration("REPLY_TIMEOUT", 30*time.Second)
}

func loadMessagingConfig(config *MessagingConfig) {
	config.AMQPUrl = getEnv("AMQP_URL", "")
	config.QueueName = getEnv("AMQP_QUEUE_NAME", "voicegate_transcripts")
}

func loadGreetingConfig(config *GreetingConfig) {
	config.Text = getEnv("GREETING_TEXT", "नमस्कार {name}, मी तुमची मदत करण्यासाठी येथे आहे.")
	config.Voice = getEnv("GREETING_VOICE", "WOMAN")
	config.Language = getEnv("GREETING_LANGUAGE", "mr-IN")
}

// Validate checks the loaded configuration for inconsistencies
func (c *Config) Validate(logger *logrus.Logger) error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTP.Port)
	}

	switch c.STT.Vendor {
	case "google", "amazon", "mock":
	default:
		return fmt.Errorf("invalid STT_VENDOR %q (expected google, amazon, or mock)", c.STT.Vendor)
	}

	if c.Session.AwaitTimeout <= 0 {
		return fmt.Errorf("SESSION_AWAIT_TIMEOUT must be positive")
	}
	if c.Session.PollInterval <= 0 || c.Session.PollInterval > c.Session.AwaitTimeout {
		return fmt.Errorf("SESSION_POLL_INTERVAL must be positive and no greater than SESSION_AWAIT_TIMEOUT")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q", c.Logging.Level)
	}

	if c.HTTP.ExternalBaseURL == "" {
		logger.Warn("EXTERNAL_BASE_URL not set; call-control documents will use relative stream URLs")
	}
	if c.Database.DSN == "" {
		logger.Warn("DB_DSN not set; caller lookup disabled, all callers treated as unknown")
	}
	if c.Reply.ServiceURL == "" {
		logger.Warn("REPLY_SERVICE_URL not set; reply generation disabled")
	}

	return nil
}

// ConfigureLogger applies the logging configuration to a logrus logger
func (c *Config) ConfigureLogger(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
