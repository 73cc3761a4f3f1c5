// Package mqtt provides the MQTT client Gray Logic Access uses to mirror
// security events onto the household message bus.
//
// This package manages:
//   - Connection to the Mosquitto broker with auto-reconnect
//   - Publishing with QoS guarantees and a payload size cap
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// The bus is an outbound mirror only. The SQLite security log stays the
// record of truth, so a broker outage never blocks or fails an access
// decision.
//
// # Security Considerations
//
//   - TLS should be enabled in production (cfg.Broker.TLS=true)
//   - Payloads never carry secrets, hashes or session tokens
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if errors.Is(err, mqtt.ErrDisabled) {
//	    // bus mirroring switched off
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.CoreSecurity("LOGIN_FAILURE")
//	client.Publish(topic, payload, 1, false)
package mqtt
