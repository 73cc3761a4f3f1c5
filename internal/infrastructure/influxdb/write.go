package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementSecurityEvents is the measurement security events are written to.
const MeasurementSecurityEvents = "security_events"

// SecurityEventPoint builds the point for one security event. The event
// type and site are tags; actor and target are fields so per-user series
// never multiply.
func SecurityEventPoint(site, eventType, actor, target string, at time.Time) *write.Point {
	tags := map[string]string{"event_type": eventType}
	if site != "" {
		tags["site"] = site
	}

	fields := map[string]any{
		"count": 1,
		"actor": actor,
	}
	if target != "" {
		fields["target"] = target
	}

	return write.NewPoint(MeasurementSecurityEvents, tags, fields, at)
}

// WriteSecurityEvent queues one security event point. Non-blocking; a
// disconnected client drops the point.
func (c *Client) WriteSecurityEvent(eventType, actor, target string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.mu.RLock()
	site := c.site
	c.mu.RUnlock()

	c.writeAPI.WritePoint(SecurityEventPoint(site, eventType, actor, target, at))
}
