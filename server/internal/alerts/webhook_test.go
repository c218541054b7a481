package alerts

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
)

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	ctypes []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, b)
		c.ctypes = append(c.ctypes, r.Header.Get("Content-Type"))
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func testAlert() types.Alert {
	return types.Alert{
		ID:        "a-1",
		Type:      "test_alert",
		Severity:  types.SeverityHigh,
		Data:      map[string]any{"endpoint": "/api/users"},
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTitle(t *testing.T) {
	if got := Title("test_alert"); got != "TEST_ALERT Alert" {
		t.Errorf("Title: got %q", got)
	}
}

func TestNewDispatcher_SkipsUnusableChannels(t *testing.T) {
	d := NewDispatcher([]Channel{
		{Name: "empty", Type: "slack"},
		{Name: "pager", Type: "pagerduty", URL: "http://example.invalid"},
		{Name: "ops", Type: "http", URL: "http://example.invalid"},
	}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	got := d.Channels()
	if len(got) != 1 || got[0].Name != "ops" {
		t.Errorf("Channels: got %+v, want only ops", got)
	}
}

func TestNotify_DeliversToEveryChannelType(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	d := NewDispatcher([]Channel{
		{Name: "s", Type: "slack", URL: srv.URL},
		{Name: "d", Type: "discord", URL: srv.URL},
		{Name: "t", Type: "teams", URL: srv.URL},
		{Name: "h", Type: "http", URL: srv.URL},
	}, time.Second, nil, m)

	d.Notify(testAlert())
	d.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 4 {
		t.Fatalf("deliveries: got %d, want 4", len(c.bodies))
	}
	for i, b := range c.bodies {
		if c.ctypes[i] != "application/json" {
			t.Errorf("Content-Type: got %q", c.ctypes[i])
		}
		if !json.Valid(b) {
			t.Errorf("body is not JSON: %s", b)
		}
		if !strings.Contains(string(b), "TEST_ALERT Alert") {
			t.Errorf("body missing title: %s", b)
		}
	}
	if got := testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("s", "ok")); got != 1 {
		t.Errorf("ok deliveries for s: got %v, want 1", got)
	}
}

func TestNotify_GenericPayloadCarriesAlert(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusAccepted))
	defer srv.Close()

	d := NewDispatcher([]Channel{{Name: "h", Type: "http", URL: srv.URL}}, time.Second, nil, nil)
	d.Notify(testAlert())
	d.Wait()

	var got struct {
		Title string      `json:"title"`
		Alert types.Alert `json:"alert"`
	}
	if err := json.Unmarshal(c.bodies[0], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Alert.ID != "a-1" || got.Alert.Severity != types.SeverityHigh {
		t.Errorf("alert: got %+v", got.Alert)
	}
	if got.Alert.Data["endpoint"] != "/api/users" {
		t.Errorf("alert data: got %v", got.Alert.Data)
	}
}

func TestNotify_FailureIsLoggedWithChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	d := NewDispatcher([]Channel{{Name: "ops-slack", Type: "slack", URL: srv.URL}}, time.Second, logger, m)
	d.Notify(testAlert())
	d.Wait()

	out := buf.String()
	if !strings.Contains(out, "alerts: webhook delivery failed") {
		t.Errorf("missing failure log: %s", out)
	}
	if !strings.Contains(out, `"channel":"ops-slack"`) {
		t.Errorf("failure log missing channel: %s", out)
	}
	if !strings.Contains(out, "HTTP 500") {
		t.Errorf("failure log missing status: %s", out)
	}
	if got := testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("ops-slack", "error")); got != 1 {
		t.Errorf("error deliveries: got %v, want 1", got)
	}
}

func TestNotify_DoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()

	d := NewDispatcher([]Channel{{Name: "slow", Type: "http", URL: srv.URL}}, 5*time.Second, nil, nil)

	// Notify returns while the handler is still parked on release.
	d.Notify(testAlert())
	close(release)
	d.Wait()
}

func TestNotify_DuringWait(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	d := NewDispatcher([]Channel{{Name: "slow", Type: "http", URL: srv.URL}}, 5*time.Second, nil, nil)
	d.Notify(testAlert())

	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	notified := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond) // let Wait start first
		d.Notify(testAlert())
		close(notified)
	}()

	close(release)
	for _, ch := range []chan struct{}{waited, notified} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("Wait or Notify did not return")
		}
	}
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("deliveries: got %d, want 2", hits)
	}
}

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("transport exploded")
}

func TestNotify_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher([]Channel{{Name: "boom", Type: "discord", URL: "http://example.invalid"}},
		time.Second, slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	d.client.Transport = panicTransport{}

	d.Notify(testAlert())
	d.Wait()

	if !strings.Contains(buf.String(), `"channel":"boom"`) {
		t.Errorf("panic not logged with channel: %s", buf.String())
	}
}

func TestEngineWithDispatcher(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	d := NewDispatcher([]Channel{{Name: "h", Type: "http", URL: srv.URL}}, time.Second, nil, nil)
	e := New(Config{Now: newClock().Now, Notifier: d})

	e.EvaluatePerformance(sample(6000, 200))
	d.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) != 1 || !strings.Contains(string(c.bodies[0]), "SLOW_RESPONSE Alert") {
		t.Errorf("deliveries: got %d %q", len(c.bodies), c.bodies)
	}
}
