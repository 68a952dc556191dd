package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/plclink/internal/infrastructure/mqtt"
	"github.com/nerrad567/plclink/internal/plc"
	"github.com/nerrad567/plclink/internal/trigger"
)

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{topic, payload, qos, retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SimulateMessage delivers payload to the handler whose filter matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for filter, h := range m.handlers {
		if filter == topic || (strings.HasSuffix(filter, "/#") && strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))) {
			handler = h
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return errors.New("no handler for " + topic)
	}
	return handler(topic, payload)
}

func (m *MockMQTTClient) On(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type linkWrite struct {
	key   plc.Key
	value bool
	wait  bool
}

// mockLink implements Link for testing.
type mockLink struct {
	mu       sync.Mutex
	writes   []linkWrite
	writeErr error
	state    plc.State
}

func (l *mockLink) Write(ns plc.Namespace, name string, value bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, linkWrite{plc.NewKey(ns, name), value, false})
	return nil
}

func (l *mockLink) WriteWait(_ context.Context, ns plc.Namespace, name string, value bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, linkWrite{plc.NewKey(ns, name), value, true})
	return nil
}

func (l *mockLink) State() plc.State { return l.state }
func (l *mockLink) URL() string      { return "opc.tcp://plc:4840" }

func (l *mockLink) Writes() []linkWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkWrite(nil), l.writes...)
}

type mockDetector struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (d *mockDetector) Check(detected bool) (trigger.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, detected)
	return trigger.Result{Action: trigger.ActionNone, Detected: detected}, d.err
}

type fixture struct {
	bridge   *Bridge
	mqtt     *MockMQTTClient
	link     *mockLink
	store    *plc.Store
	detector *mockDetector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mqtt:     NewMockMQTTClient(),
		link:     &mockLink{state: plc.StateConnected},
		store:    plc.NewStore(nil),
		detector: &mockDetector{},
	}
	b, err := New(Options{MQTT: f.mqtt, Link: f.link, Store: f.store, Detector: f.detector})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.bridge = b
	t.Cleanup(b.Stop)
	return f
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.bridge.queue.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func decodeAck(t *testing.T, p mockPublish) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

func TestNewValidation(t *testing.T) {
	store := plc.NewStore(nil)
	tests := []struct {
		name string
		opts Options
	}{
		{"no mqtt", Options{Link: &mockLink{}, Store: store}},
		{"no link", Options{MQTT: NewMockMQTTClient(), Store: store}},
		{"no store", Options{MQTT: NewMockMQTTClient(), Link: &mockLink{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestStartPublishesSnapshotAndLinkState(t *testing.T) {
	f := newFixture(t)
	f.store.Set("ns=4;s=SinalPython", true)

	if err := f.bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.flush(t)

	states := f.mqtt.On("plclink/state/4/SinalPython")
	if len(states) != 1 || !states[0].Retained {
		t.Fatalf("state publishes = %+v", states)
	}
	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Value != true || msg.Name != "SinalPython" || msg.Namespace != "4" {
		t.Errorf("StateMessage = %+v", msg)
	}

	links := f.mqtt.On("plclink/system/link")
	if len(links) != 1 {
		t.Fatalf("link publishes = %d, want 1", len(links))
	}
	var link map[string]any
	if err := json.Unmarshal(links[0].Payload, &link); err != nil {
		t.Fatal(err)
	}
	if link["state"] != "connected" || link["url"] != "opc.tcp://plc:4840" {
		t.Errorf("link message = %v", link)
	}
}

func TestStateChangesArePublished(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}
	f.store.Set("ns=04;s=Lamp", false)
	f.store.Set("ns=04;s=Lamp", true)
	f.flush(t)

	got := f.mqtt.On("plclink/state/4/Lamp")
	if len(got) != 2 {
		t.Fatalf("publishes = %d, want 2", len(got))
	}
	var last StateMessage
	if err := json.Unmarshal(got[1].Payload, &last); err != nil {
		t.Fatal(err)
	}
	if last.Value != true {
		t.Errorf("last value = %v, want true", last.Value)
	}
}

func TestCommandAccepted(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}

	err := f.mqtt.SimulateMessage("plclink/command/4/SinalPython", []byte(`{"id":"cmd-1","value":true}`))
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	writes := f.link.Writes()
	if len(writes) != 1 || writes[0] != (linkWrite{"ns=4;s=SinalPython", true, false}) {
		t.Errorf("writes = %+v", writes)
	}
	acks := f.mqtt.On("plclink/ack/4/SinalPython")
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	ack := decodeAck(t, acks[0])
	if ack.ID != "cmd-1" || ack.Status != AckAccepted || ack.Error != "" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestCommandGeneratesID(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.mqtt.SimulateMessage("plclink/command/4/X", []byte(`{"value":false}`)); err != nil {
		t.Fatal(err)
	}
	ack := decodeAck(t, f.mqtt.On("plclink/ack/4/X")[0])
	if _, err := uuid.Parse(ack.ID); err != nil {
		t.Errorf("generated ID %q is not a UUID: %v", ack.ID, err)
	}
}

func TestCommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		writeErr error
		wantErr  bool
		wantMsg  string
	}{
		{"disconnected", `{"value":true}`, plc.ErrNotConnected, false, plc.ErrNotConnected.Error()},
		{"missing value", `{"id":"a"}`, nil, true, "value is required"},
		{"invalid json", `{`, nil, true, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.link.writeErr = tt.writeErr
			if err := f.bridge.Start(); err != nil {
				t.Fatal(err)
			}

			err := f.mqtt.SimulateMessage("plclink/command/4/X", []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			acks := f.mqtt.On("plclink/ack/4/X")
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			ack := decodeAck(t, acks[0])
			if ack.Status != AckFailed || ack.Error != tt.wantMsg {
				t.Errorf("ack = %+v", ack)
			}
		})
	}
}

func TestCommandWait(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}
	if err := f.mqtt.SimulateMessage("plclink/command/4/X", []byte(`{"id":"w","value":true,"wait":true}`)); err != nil {
		t.Fatal(err)
	}
	f.bridge.Stop()

	writes := f.link.Writes()
	if len(writes) != 1 || !writes[0].wait {
		t.Errorf("writes = %+v, want one confirmed write", writes)
	}
	acks := f.mqtt.On("plclink/ack/4/X")
	if len(acks) != 1 || decodeAck(t, acks[0]).Status != AckConfirmed {
		t.Errorf("acks = %+v", acks)
	}
}

func TestDetection(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.mqtt.SimulateMessage("plclink/detection", []byte(`{"detected":true}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if err := f.mqtt.SimulateMessage("plclink/detection", []byte(`nope`)); err == nil {
		t.Error("invalid detection payload should fail")
	}

	f.detector.err = trigger.ErrDisabled
	if err := f.mqtt.SimulateMessage("plclink/detection", []byte(`{"detected":false}`)); err != nil {
		t.Errorf("disabled latch should not be an error: %v", err)
	}

	if len(f.detector.calls) != 2 || !f.detector.calls[0] || f.detector.calls[1] {
		t.Errorf("detector calls = %v", f.detector.calls)
	}
}

func TestNoDetectorSkipsSubscription(t *testing.T) {
	mq := NewMockMQTTClient()
	b, err := New(Options{MQTT: mq, Link: &mockLink{}, Store: plc.NewStore(nil)})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	if _, ok := mq.handlers["plclink/detection"]; ok {
		t.Error("detection topic subscribed without a detector")
	}
}

func TestStopDetachesObserver(t *testing.T) {
	f := newFixture(t)
	if err := f.bridge.Start(); err != nil {
		t.Fatal(err)
	}
	if f.store.ObserverCount() != 1 {
		t.Fatalf("ObserverCount() = %d, want 1", f.store.ObserverCount())
	}
	f.bridge.Stop()
	f.bridge.Stop()
	if f.store.ObserverCount() != 0 {
		t.Errorf("ObserverCount() after Stop = %d, want 0", f.store.ObserverCount())
	}

	f.bridge.LinkStateChanged(plc.StateStopped)
	if f.bridge.Dropped() == 0 {
		t.Error("publishes after Stop should be dropped")
	}
}
