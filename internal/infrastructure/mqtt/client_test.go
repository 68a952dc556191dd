package mqtt

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plclink/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to a local broker, skipping the test when none is running.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()

	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// mockLogger records log calls.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *mockLogger) Info(string, ...any) {}

// =============================================================================
// Unit Tests (no broker)
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("plclink-test")
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "plclink-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.WillEnabled || opts.WillTopic != "plclink/system/status" || !opts.WillRetained {
		t.Errorf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"unexpected_disconnect"`) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestBrokerURLTLS(t *testing.T) {
	cfg := testConfig("x")
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() = %q", got)
	}
	if opts := buildClientOptions(cfg); opts.TLSConfig == nil {
		t.Error("TLSConfig should be set when TLS is enabled")
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "plclink/test", nil, 3, ErrInvalidQoS},
		{"oversized payload", "plclink/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("plclink/#", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("plclink/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "plclink/command/4/X", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "plclink/command/4/X", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %v, want one panic entry", logger.errors)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %v, want one handler error", logger.warns)
	}
}

func TestStatusPayload(t *testing.T) {
	got := string(statusPayload("plclink", "online", ""))
	if !strings.Contains(got, `"status":"online"`) || !strings.Contains(got, `"client_id":"plclink"`) {
		t.Errorf("statusPayload() = %s", got)
	}
	if strings.Contains(got, "reason") {
		t.Errorf("empty reason should be omitted: %s", got)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	client := connectOrSkip(t, "plclink-test-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := client.Publish("plclink/test", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "plclink-test-roundtrip")

	received := make(chan string, 1)
	topic := Topics{}.Command("4", "SinalPython")
	err := client.Subscribe(Topics{}.AllCommands(), 1, func(topic string, payload []byte) error {
		received <- topic + " " + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllCommands()) || client.SubscriptionCount() != 1 {
		t.Error("subscription should be tracked")
	}

	if err := client.Publish(topic, []byte(`{"value":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != topic+` {"value":true}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestPublishRetained(t *testing.T) {
	client := connectOrSkip(t, "plclink-test-retained")

	if err := client.PublishRetained(Topics{}.SystemLink(), []byte(`{"state":"connected"}`)); err != nil {
		t.Errorf("PublishRetained() error = %v", err)
	}
	if client.QoS() != 1 {
		t.Errorf("QoS() = %d, want 1", client.QoS())
	}
}
