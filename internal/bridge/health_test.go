package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plclink/internal/plc"
)

type stubStats struct {
	stats plc.Stats
}

func (s stubStats) Stats() plc.Stats { return s.stats }

type recordingMetrics struct {
	mu    sync.Mutex
	stats []plc.Stats
}

func (r *recordingMetrics) WriteLinkStats(s plc.Stats) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

func (r *recordingMetrics) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

func lastHealth(t *testing.T, m *MockMQTTClient) HealthMessage {
	t.Helper()
	msgs := m.On("plclink/health")
	if len(msgs) == 0 {
		t.Fatal("no health published")
	}
	var h HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &h); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHealthStatus(t *testing.T) {
	tests := []struct {
		name       string
		stats      plc.Stats
		want       HealthStatus
		wantReason string
	}{
		{"connected", plc.Stats{State: plc.StateConnected, Connected: true}, HealthHealthy, ""},
		{"reconnecting", plc.Stats{State: plc.StateReconnecting}, HealthDegraded, "controller reconnecting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := NewMockMQTTClient()
			metrics := &recordingMetrics{}
			h := NewHealthReporter(HealthReporterConfig{
				Version:   "1.2.3",
				Publisher: mq,
				Link:      stubStats{tt.stats},
				Metrics:   metrics,
			})
			if err := h.ReportNow(); err != nil {
				t.Fatalf("ReportNow() error = %v", err)
			}
			msg := lastHealth(t, mq)
			if msg.Status != tt.want || msg.Reason != tt.wantReason || msg.Version != "1.2.3" {
				t.Errorf("health = %+v", msg)
			}
			if metrics.Count() != 1 {
				t.Errorf("metrics writes = %d, want 1", metrics.Count())
			}
			if !mq.On("plclink/health")[0].Retained {
				t.Error("health should be retained")
			}
		})
	}
}

func TestHealthWithoutPublisher(t *testing.T) {
	metrics := &recordingMetrics{}
	h := NewHealthReporter(HealthReporterConfig{Link: stubStats{}, Metrics: metrics})
	if err := h.ReportNow(); err != nil {
		t.Errorf("ReportNow() error = %v", err)
	}
	if metrics.Count() != 1 {
		t.Error("metrics should be written without a publisher")
	}
}

func TestHealthLifecycle(t *testing.T) {
	mq := NewMockMQTTClient()
	metrics := &recordingMetrics{}
	h := NewHealthReporter(HealthReporterConfig{
		Interval:  10 * time.Millisecond,
		Publisher: mq,
		Link:      stubStats{plc.Stats{Connected: true, State: plc.StateConnected}},
		Metrics:   metrics,
	})

	h.Start(context.Background())
	if got := mq.On("plclink/health"); len(got) == 0 {
		t.Fatal("starting status not published")
	}

	deadline := time.Now().Add(2 * time.Second)
	for metrics.Count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if metrics.Count() < 3 {
		t.Fatalf("metrics writes = %d, want periodic reports", metrics.Count())
	}

	h.Stop()
	h.Stop()
	if msg := lastHealth(t, mq); msg.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", msg.Status)
	}
}
