package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Publisher is the subset of *mqtt.Client the bus sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	QoS() byte
}

// MQTTSink mirrors events to graylogic/core/security/{event_type}.
type MQTTSink struct {
	pub    Publisher
	logger *slog.Logger
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub Publisher, logger *slog.Logger) *MQTTSink {
	return &MQTTSink{pub: pub, logger: logger.With("component", "audit.mqtt")}
}

// Publish sends e as JSON. Failures are logged and dropped.
func (s *MQTTSink) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("encoding security event", "event_id", e.ID, "error", err)
		return
	}
	if err := s.pub.Publish(mqtt.Topics{}.CoreSecurity(string(e.Type)), payload, s.pub.QoS(), false); err != nil {
		s.logger.Warn("publishing security event", "event_id", e.ID, "error", err)
	}
}

// PointWriter is the subset of *influxdb.Client the metrics sink needs.
type PointWriter interface {
	WriteSecurityEvent(eventType, actor, target string, at time.Time)
}

// MetricsSink records one time-series point per event.
type MetricsSink struct {
	w PointWriter
}

// NewMetricsSink creates a sink writing through w.
func NewMetricsSink(w PointWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Publish queues the point. The writer batches and never blocks.
func (s *MetricsSink) Publish(e Event) {
	s.w.WriteSecurityEvent(string(e.Type), e.Actor, e.Target, e.Timestamp)
}
