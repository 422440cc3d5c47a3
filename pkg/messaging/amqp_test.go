package messaging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestConnectRequiresConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config AMQPConfig
	}{
		{"missing url", AMQPConfig{QueueName: "q"}},
		{"missing queue", AMQPConfig{URL: "amqp://localhost"}},
		{"both missing", AMQPConfig{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewAMQPClient(testLogger(), tc.config)
			assert.Error(t, client.Connect())
			assert.False(t, client.IsConnected())
		})
	}
}

func TestRoutingKeyDefaultsToQueueName(t *testing.T) {
	client := NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "transcripts"})
	assert.Equal(t, "transcripts", client.config.RoutingKey)
}

func TestPublishEventWhenDisconnected(t *testing.T) {
	client := NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "q"})

	err := client.PublishEvent("call_ended", "ben-1", []byte(`{"type":"call_ended"}`))
	assert.Error(t, err)
}

func TestExporterSwallowsDisconnectedClient(t *testing.T) {
	client := NewAMQPClient(testLogger(), AMQPConfig{URL: "amqp://localhost", QueueName: "q"})
	exporter := NewEventExporter(testLogger(), client)

	assert.NotPanics(t, func() {
		exporter.Export("transcript_update", "ben-1", []byte(`{}`))
	})
}

func TestDisconnectWhenNeverConnected(t *testing.T) {
	client := NewAMQPClient(testLogger(), AMQPConfig{})
	assert.NotPanics(t, client.Disconnect)
}
