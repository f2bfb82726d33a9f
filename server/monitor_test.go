package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianbenefits/claimbatch/batch"
	"github.com/meridianbenefits/claimbatch/errors"
)

type stubStore struct {
	claims map[string]*batch.Claim
}

func (s *stubStore) Get(_ context.Context, id string) (*batch.Claim, error) {
	c, ok := s.claims[id]
	if !ok {
		return nil, errors.NewNotFoundError("claim %s", id)
	}
	return c, nil
}

func (s *stubStore) Query(_ context.Context, _ batch.ClaimFilter) ([]*batch.Claim, error) {
	var out []*batch.Claim
	for _, c := range s.claims {
		out = append(out, c)
	}
	return out, nil
}

type okAdjudicator struct{}

func (okAdjudicator) Process(_ context.Context, _ string, _ batch.ProcessOptions) (*batch.Result, error) {
	return &batch.Result{ApprovedAmount: 10}, nil
}

func newMonitorFixture(t *testing.T) (*Monitor, *batch.Registry, *httptest.Server) {
	t.Helper()

	registry := batch.NewRegistry(&stubStore{claims: map[string]*batch.Claim{
		"CL-001": {ID: "CL-001", Amount: 500},
	}}, okAdjudicator{}, batch.RegistryConfig{
		Defaults: batch.Configuration{
			ProcessingMode:   batch.ModeSequential,
			MaxConcurrency:   1,
			FailureThreshold: 100,
		},
	}, nil, nil, nil)

	m := NewMonitor(registry, 0)
	m.updates = registry.Subscribe()
	m.wg.Add(1)
	go m.fanOut()

	ts := httptest.NewServer(http.HandlerFunc(m.handleWS))
	t.Cleanup(func() {
		ts.Close()
		m.cancel()
		registry.Unsubscribe(m.updates)
	})
	return m, registry, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read monitor message: %v", err)
	}
	return msg
}

func TestMonitorSendsSnapshotOnConnect(t *testing.T) {
	_, registry, ts := newMonitorFixture(t)

	if _, err := registry.CreateJob(context.Background(), "visible", "", []string{"CL-001"}, nil, nil); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	conn := dial(t, ts)
	msg := readMessage(t, conn)

	if msg["type"] != "snapshot" {
		t.Fatalf("first message type = %v, want snapshot", msg["type"])
	}
	jobs, ok := msg["jobs"].([]interface{})
	if !ok || len(jobs) != 1 {
		t.Errorf("snapshot jobs = %v, want one job", msg["jobs"])
	}
}

func TestMonitorStreamsJobUpdates(t *testing.T) {
	_, registry, ts := newMonitorFixture(t)

	conn := dial(t, ts)
	if msg := readMessage(t, conn); msg["type"] != "snapshot" {
		t.Fatalf("expected snapshot first, got %v", msg["type"])
	}

	ctx := context.Background()
	job, err := registry.CreateJob(ctx, "streamed", "", []string{"CL-001"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := registry.StartJob(ctx, job.ID); err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	registry.Wait()

	// Drain until the terminal update arrives
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg["type"] != "job_update" {
			continue
		}
		update, _ := msg["update"].(map[string]interface{})
		if update["job_id"] == job.ID && update["status"] == string(batch.JobStatusCompleted) {
			return
		}
	}
	t.Fatal("never observed the completed job_update")
}
