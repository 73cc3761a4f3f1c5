package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

// testConfig targets a local Mosquitto broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-access-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test when none
// is running and RUN_INTEGRATION is unset.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") == "" {
			t.Skip("MQTT broker not available, skipping integration test")
		}
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", Topics{}.CoreSecurity("LOGOUT"), []byte("{}"), 3, ErrInvalidQoS},
		{"oversized", Topics{}.CoreSecurity("LOGOUT"), make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", Topics{}.CoreSecurity("LOGOUT"), []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{cfg: testConfig()}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Topics{}.SystemStatus(), "graylogic/system/status"},
		{Topics{}.CoreSecurity("ACCOUNT_LOCKED"), "graylogic/core/security/ACCOUNT_LOCKED"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "access", Password: "pw"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graylogic-access-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "access" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set with TLS enabled")
	}
}

func TestStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("graylogic-access", "offline", "graceful_shutdown"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status != "offline" || p.ClientID != "graylogic-access" || p.Reason != "graceful_shutdown" {
		t.Errorf("payload = %+v", p)
	}
}

func TestConnectAndPublish(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := client.Publish(Topics{}.CoreSecurity("LOGOUT"), []byte(`{"actor":"test"}`), client.QoS(), false); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}
