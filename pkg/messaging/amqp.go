package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voicegate-server/pkg/metrics"
)

// EventMessage is the envelope published to the transcript queue
type EventMessage struct {
	EventType     string          `json:"event_type"`
	BeneficiaryID string          `json:"beneficiary_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	RoutingKey string
	Durable    bool
	AutoDelete bool
}

// AMQPClient handles the AMQP connection and event publishing
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true
	config.AutoDelete = false

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, transcript export disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// amqp.Dial has no context form; run it aside so a hung broker
	// cannot stall startup.
	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		metrics.SetAMQPConnectionStatus(false)
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	if err != nil {
		metrics.SetAMQPConnectionStatus(false)
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	metrics.SetAMQPConnectionStatus(true)
	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// monitorConnection watches for broker-side closes and reconnects with
// backoff until Disconnect is called.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error, 1)
	c.conn.NotifyClose(closeChan)

	select {
	case <-c.stopChan:
		return
	case amqpErr := <-closeChan:
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()

		metrics.SetAMQPConnectionStatus(false)
		if amqpErr != nil {
			c.logger.WithError(amqpErr).Warn("AMQP connection lost, reconnecting")
			metrics.RecordAMQPConnectionError("connection_closed")
		}
	}

	backoff := time.Second
	for {
		select {
		case <-c.stopChan:
			return
		case <-time.After(backoff):
		}

		if err := c.Connect(); err == nil {
			metrics.RecordAMQPReconnect("success")
			return
		}

		metrics.RecordAMQPReconnect("failure")
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishEvent publishes a dashboard event to the transcript queue
func (c *AMQPClient) PublishEvent(eventType, beneficiaryID string, payload []byte) error {
	message := EventMessage{
		EventType:     eventType,
		BeneficiaryID: beneficiaryID,
		Timestamp:     time.Now(),
		Payload:       json.RawMessage(payload),
	}

	bodyBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if !c.connected || c.channel == nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "not_connected")
		return fmt.Errorf("not connected to AMQP server")
	}

	err = c.channel.Publish(
		"", // default exchange
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         bodyBytes,
		},
	)
	if err != nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.RecordAMQPPublish(c.config.QueueName, "ok")
	return nil
}
