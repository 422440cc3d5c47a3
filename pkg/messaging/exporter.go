package messaging

import (
	"github.com/sirupsen/logrus"
)

// EventExporter forwards dashboard hub events onto the AMQP queue so
// downstream analytics can consume them. It satisfies the hub's
// Exporter interface.
type EventExporter struct {
	logger *logrus.Logger
	client *AMQPClient
}

// NewEventExporter creates an exporter backed by the given client
func NewEventExporter(logger *logrus.Logger, client *AMQPClient) *EventExporter {
	return &EventExporter{
		logger: logger,
		client: client,
	}
}

// Export publishes one hub event. Failures are logged and swallowed;
// the export path must never disturb call handling.
func (e *EventExporter) Export(eventType, beneficiaryID string, payload []byte) {
	if !e.client.IsConnected() {
		e.logger.WithFields(logrus.Fields{
			"event_type":     eventType,
			"beneficiary_id": beneficiaryID,
		}).Debug("Skipping event export: AMQP client not connected")
		return
	}

	if err := e.client.PublishEvent(eventType, beneficiaryID, payload); err != nil {
		e.logger.WithFields(logrus.Fields{
			"event_type":     eventType,
			"beneficiary_id": beneficiaryID,
			"error":          err.Error(),
		}).Error("Failed to export event to AMQP")
	}
}
