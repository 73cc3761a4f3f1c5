// Package influxdb provides InfluxDB connectivity for Gray Logic Access.
//
// It wraps the official influxdb-client-go v2 library and records one
// point per security event in the "security_events" measurement, so
// dashboards can chart login failures, lockouts and technician activity
// over time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics switched off
//	}
//	defer client.Close()
//
//	client.WriteSecurityEvent("LOGIN_FAILURE", "alice", "", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write failures are
// delivered to the SetOnError callback.
//
// Tags are low cardinality only (event type, site). Usernames are fields,
// never tags.
package influxdb
