package monitor

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/alerts"
	"github.com/obsidianstack/appmonitor/server/internal/health"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService() (*Service, *fakeClock) {
	clk := newClock()
	return New(Options{Now: clk.Now}), clk
}

func TestPerformanceMetrics_PerEndpoint(t *testing.T) {
	s, _ := newTestService()
	s.RecordAPIPerformance("/api/users", "GET", 100, 200)
	s.RecordAPIPerformance("/api/users", "GET", 300, 200)
	s.RecordAPIPerformance("/api/orders", "POST", 1000, 201)

	users := s.PerformanceMetrics("/api/users", types.TimeRange{})
	if users.TotalRequests != 2 || users.AvgResponseTime != 200 {
		t.Errorf("/api/users: got %+v", users)
	}
	all := s.PerformanceMetrics("", types.TimeRange{})
	if all.TotalRequests != 3 {
		t.Errorf("all endpoints: got %d requests, want 3", all.TotalRequests)
	}
	if got := s.PerformanceMetrics("/api/missing", types.TimeRange{}); got.TotalRequests != 0 || got.AvgResponseTime != 0 {
		t.Errorf("unknown endpoint: got %+v, want zero", got)
	}
}

func TestPerformanceMetrics_ErrorRateAndPercentiles(t *testing.T) {
	s, _ := newTestService()
	s.RecordAPIPerformance("/e", "GET", 10, 200)
	s.RecordAPIPerformance("/e", "GET", 10, 200)
	s.RecordAPIPerformance("/e", "GET", 10, 400)
	if got := s.PerformanceMetrics("/e", types.TimeRange{}).ErrorRate; got != 33.33333333333333 {
		t.Errorf("ErrorRate: got %v, want 33.33333333333333", got)
	}

	for _, ms := range []int{100, 200, 300, 400, 500} {
		s.RecordAPIPerformance("/p", "GET", ms, 200)
	}
	got := s.PerformanceMetrics("/p", types.TimeRange{})
	if got.P95ResponseTime != 500 || got.P99ResponseTime != 500 {
		t.Errorf("P95/P99: got %v/%v, want 500/500", got.P95ResponseTime, got.P99ResponseTime)
	}
}

func TestPerformanceMetrics_TimeRange(t *testing.T) {
	s, clk := newTestService()
	s.RecordAPIPerformance("/a", "GET", 100, 200)
	start := clk.Now()
	clk.Advance(time.Hour)
	s.RecordAPIPerformance("/a", "GET", 300, 200)

	got := s.PerformanceMetrics("/a", types.TimeRange{Start: start, End: start})
	if got.TotalRequests != 1 || got.AvgResponseTime != 100 {
		t.Errorf("inclusive single-instant range: got %+v", got)
	}
	got = s.PerformanceMetrics("/a", types.Since(start.Add(time.Minute)))
	if got.TotalRequests != 1 || got.AvgResponseTime != 300 {
		t.Errorf("open-ended range: got %+v", got)
	}
}

func TestRecordAPIPerformance_NegativeTimeClamped(t *testing.T) {
	s, _ := newTestService()
	s.RecordAPIPerformance("/a", "GET", -50, 200)
	if got := s.PerformanceMetrics("/a", types.TimeRange{}).AvgResponseTime; got != 0 {
		t.Errorf("AvgResponseTime: got %v, want 0", got)
	}
}

func TestSlowResponseAlert(t *testing.T) {
	s, _ := newTestService()
	s.RecordAPIPerformance("/api/slow", "GET", 6000, 200)

	got := s.Alerts("")
	if len(got) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(got))
	}
	a := got[0]
	if a.Type != "slow_response" || a.Severity != types.SeverityHigh {
		t.Errorf("got type=%q severity=%q", a.Type, a.Severity)
	}
	if a.Data["responseTime"] != 6000 {
		t.Errorf("data.responseTime: got %v, want 6000", a.Data["responseTime"])
	}
}

func TestHighErrorRateAlert(t *testing.T) {
	s, _ := newTestService()
	s.RecordAPIPerformance("/api/fail", "POST", 50, 500)

	got := s.Alerts("")
	if len(got) != 1 {
		t.Fatalf("alerts: got %d, want 1", len(got))
	}
	if got[0].Type != "high_error_rate" || got[0].Severity != types.SeverityCritical {
		t.Errorf("got type=%q severity=%q", got[0].Type, got[0].Severity)
	}
	if got[0].Data["statusCode"] != 500 {
		t.Errorf("data.statusCode: got %v, want 500", got[0].Data["statusCode"])
	}
}

func TestSecurityEvents(t *testing.T) {
	s, _ := newTestService()
	s.RecordSecurityEvent("login_failed", types.SeverityMedium, map[string]any{"ip": "10.0.0.1"})
	s.RecordSecurityEvent("sql_injection", types.SeverityCritical, nil)
	s.RecordSecurityEvent("odd", "SEVERE", nil)

	events := s.SecurityEvents(types.TimeRange{})
	if len(events) != 3 {
		t.Fatalf("SecurityEvents: got %d, want 3", len(events))
	}
	if events[2].Severity != types.SeverityLow {
		t.Errorf("unknown severity: got %q, want low", events[2].Severity)
	}
	if events[1].Data == nil {
		t.Error("nil data should be stored as an empty map")
	}

	got := s.Alerts("")
	if len(got) != 1 || got[0].Type != "security_event" || got[0].Severity != types.SeverityCritical {
		t.Errorf("alerts: got %+v, want one critical security_event", got)
	}
}

func TestIngestedDataIsCopied(t *testing.T) {
	s, _ := newTestService()
	evData := map[string]any{"ip": "10.0.0.1"}
	alertData := map[string]any{"n": 1}

	s.RecordSecurityEvent("login_failed", types.SeverityHigh, evData)
	s.CreateAlert("manual", types.SeverityLow, alertData)
	evData["ip"] = "changed"
	alertData["n"] = 2

	if got := s.SecurityEvents(types.TimeRange{})[0].Data["ip"]; got != "10.0.0.1" {
		t.Errorf("stored event data: ip=%v, want 10.0.0.1", got)
	}
	for _, a := range s.Alerts("") {
		switch a.Type {
		case "manual":
			if a.Data["n"] != 1 {
				t.Errorf("stored alert data: n=%v, want 1", a.Data["n"])
			}
		case "security_event":
			if inner := a.Data["data"].(map[string]any); inner["ip"] != "10.0.0.1" {
				t.Errorf("security alert payload: ip=%v, want 10.0.0.1", inner["ip"])
			}
		}
	}

	// Mutating a query result must not reach the store either.
	s.SecurityEvents(types.TimeRange{})[0].Data["ip"] = "changed"
	if got := s.SecurityEvents(types.TimeRange{})[0].Data["ip"]; got != "10.0.0.1" {
		t.Errorf("event mutated through query result: ip=%v", got)
	}
}

func TestUserMetrics(t *testing.T) {
	s, clk := newTestService()
	s.RecordUserMetric("u1", "login", 1)
	clk.Advance(10 * 24 * time.Hour)
	s.RecordUserMetric("u1", "login", 2)
	s.RecordUserMetric("u1", "pageview", 5)
	s.RecordUserMetric("u2", "login", 9)

	if got := s.UserMetrics("u1", "", 0); len(got) != 3 {
		t.Errorf("default 30 days: got %d, want 3", len(got))
	}
	if got := s.UserMetrics("u1", "login", 7); len(got) != 1 || got[0].Value != 2 {
		t.Errorf("last 7 days of login: got %+v", got)
	}
	if got := s.UserMetrics("nobody", "", 30); len(got) != 0 {
		t.Errorf("unknown user: got %d, want 0", len(got))
	}
}

func TestNamedMetrics(t *testing.T) {
	s, _ := newTestService()
	s.RecordMetric("totalUsers", 10, nil)
	s.RecordMetric("totalUsers", 12, map[string]string{"region": "eu"})
	s.RecordMetric("queueDepth", 3, nil)

	pts := s.Metric("totalUsers", types.TimeRange{})
	if len(pts) != 2 || pts[1].Value != 12 || pts[1].Tags["region"] != "eu" {
		t.Errorf("Metric(totalUsers): got %+v", pts)
	}
	if got := s.Metric("nope", types.TimeRange{}); len(got) != 0 {
		t.Errorf("unknown metric: got %v", got)
	}
	latest := s.LatestMetrics()
	if latest["totalUsers"] != 12 || latest["queueDepth"] != 3 {
		t.Errorf("LatestMetrics: got %v", latest)
	}
}

func TestCapacities(t *testing.T) {
	s, _ := newTestService()

	for i := 0; i < 1001; i++ {
		s.RecordAPIPerformance("/cap", "GET", 1, 200)
		s.RecordSecurityEvent("e", types.SeverityLow, nil)
		s.RecordMetric("m", float64(i), nil)
	}
	for i := 0; i < 10001; i++ {
		s.RecordUserMetric("u", "t", float64(i))
	}
	for i := 0; i < 101; i++ {
		s.CreateAlert("a", types.SeverityLow, nil)
	}

	if n := s.performance.Len(); n != 1000 {
		t.Errorf("performance: got %d, want 1000", n)
	}
	if n := s.security.Len(); n != 1000 {
		t.Errorf("security: got %d, want 1000", n)
	}
	if n := s.users.Len(); n != 10000 {
		t.Errorf("user metrics: got %d, want 10000", n)
	}
	if n := s.named.Len("m"); n != 1000 {
		t.Errorf("named metric: got %d, want 1000", n)
	}
	if first := s.Metric("m", types.TimeRange{})[0].Value; first != 1 {
		t.Errorf("oldest named point: got %v, want 1", first)
	}
	if n := len(s.Alerts("")); n != 100 {
		t.Errorf("alerts: got %d, want 100", n)
	}
}

func TestAlertsQueryAndAcknowledge(t *testing.T) {
	s, clk := newTestService()
	a := s.CreateAlert("test_alert", types.SeverityLow, map[string]any{"n": 1})
	clk.Advance(time.Second)
	b := s.CreateAlert("test_alert", types.SeverityLow, map[string]any{"n": 1})
	clk.Advance(time.Second)
	c := s.CreateAlert("other", types.SeverityCritical, nil)

	if a.ID == b.ID {
		t.Fatal("identical CreateAlert calls returned the same id")
	}

	all := s.Alerts("")
	if all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("Alerts order: got %s..%s, want newest first", all[0].ID, all[2].ID)
	}
	if low := s.Alerts(types.SeverityLow); len(low) != 2 {
		t.Errorf("Alerts(low): got %d, want 2", len(low))
	}

	if !s.AcknowledgeAlert(b.ID) {
		t.Fatal("AcknowledgeAlert: expected match")
	}
	s.AcknowledgeAlert("unknown")
	for _, got := range s.Alerts("") {
		if got.Acknowledged != (got.ID == b.ID) {
			t.Errorf("alert %s acknowledged=%v", got.ID, got.Acknowledged)
		}
	}
}

func TestHealthStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s, _ := newTestService()
		s.RecordAPIPerformance("/h", "GET", 100, 200)
		if got := s.HealthStatus().Status; got != health.StatusHealthy {
			t.Errorf("got %q, want healthy", got)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		s, _ := newTestService()
		s.RecordAPIPerformance("/h", "GET", 4000, 200)
		if got := s.HealthStatus().Status; got != health.StatusDegraded {
			t.Errorf("got %q, want degraded", got)
		}
	})

	t.Run("unhealthy error rate", func(t *testing.T) {
		s, _ := newTestService()
		for i := 0; i < 9; i++ {
			s.RecordAPIPerformance("/h", "GET", 100, 200)
		}
		s.RecordAPIPerformance("/h", "GET", 100, 404)
		s.RecordAPIPerformance("/h", "GET", 100, 404)
		r := s.HealthStatus()
		if r.Status != health.StatusUnhealthy {
			t.Errorf("got %q, want unhealthy", r.Status)
		}
		if r.Performance.TotalRequests != 11 {
			t.Errorf("TotalRequests: got %d, want 11", r.Performance.TotalRequests)
		}
	})

	t.Run("unacknowledged critical", func(t *testing.T) {
		s, _ := newTestService()
		a := s.CreateAlert("manual", types.SeverityCritical, nil)
		if got := s.HealthStatus().Status; got != health.StatusUnhealthy {
			t.Errorf("got %q, want unhealthy", got)
		}
		s.AcknowledgeAlert(a.ID)
		if got := s.HealthStatus().Status; got != health.StatusHealthy {
			t.Errorf("after ack: got %q, want healthy", got)
		}
	})

	t.Run("security counts", func(t *testing.T) {
		s, _ := newTestService()
		s.RecordSecurityEvent("a", types.SeverityLow, nil)
		s.RecordSecurityEvent("b", types.SeverityHigh, nil)
		r := s.HealthStatus()
		if r.Security.TotalEvents != 2 || r.Security.HighSeverityEvents != 1 {
			t.Errorf("Security: got %+v", r.Security)
		}
	})
}

func TestApplyThresholds(t *testing.T) {
	s, _ := newTestService()
	s.ApplyThresholds(Thresholds{SlowResponseMs: 1000, DegradedResponseMs: 500})

	s.RecordAPIPerformance("/t", "GET", 1500, 200)
	if got := s.Alerts(""); len(got) != 1 || got[0].Type != "slow_response" {
		t.Errorf("alerts after lowering slow threshold: got %+v", got)
	}
	if got := s.HealthStatus().Status; got != health.StatusDegraded {
		t.Errorf("health: got %q, want degraded", got)
	}

	s.ApplyThresholds(Thresholds{})
	want := Thresholds{SlowResponseMs: 5000, DegradedResponseMs: 3000, UnhealthyErrorRate: 10}
	if got := s.Thresholds(); got != want {
		t.Errorf("Thresholds: got %+v, want %+v", got, want)
	}
}

func TestApplyThresholds_DegradedStaysBelowSlow(t *testing.T) {
	tests := []struct {
		name string
		in   Thresholds
		want float64
	}{
		{"default degraded above new slow", Thresholds{SlowResponseMs: 2000}, 1200},
		{"explicit degraded equal to slow", Thresholds{SlowResponseMs: 1000, DegradedResponseMs: 1000}, 600},
		{"valid pair untouched", Thresholds{SlowResponseMs: 1000, DegradedResponseMs: 900}, 900},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestService()
			s.ApplyThresholds(tc.in)
			got := s.Thresholds()
			if got.DegradedResponseMs != tc.want {
				t.Errorf("DegradedResponseMs: got %v, want %v", got.DegradedResponseMs, tc.want)
			}
			if got.DegradedResponseMs >= float64(got.SlowResponseMs) {
				t.Errorf("degraded %v not below slow %d", got.DegradedResponseMs, got.SlowResponseMs)
			}
		})
	}
}

func TestFailedWebhookDoesNotAffectCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	d := alerts.NewDispatcher([]alerts.Channel{{Name: "team-discord", Type: "discord", URL: srv.URL}},
		time.Second, slog.New(slog.NewJSONHandler(&buf, nil)), nil)
	s := New(Options{Now: newClock().Now, Notifier: d})

	a := s.CreateAlert("test_alert", types.SeverityHigh, nil)
	d.Wait()

	if a.ID == "" {
		t.Fatal("CreateAlert returned no alert")
	}
	if len(s.Alerts("")) != 1 {
		t.Error("alert should be stored despite the delivery failure")
	}
	if !strings.Contains(buf.String(), `"channel":"team-discord"`) {
		t.Errorf("failure not logged with channel: %s", buf.String())
	}
}

func TestConcurrentIngestAndQuery(t *testing.T) {
	s := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			s.RecordAPIPerformance(fmt.Sprintf("/c/%d", n%3), "GET", n*10, 200)
			s.RecordMetric("load", float64(n), nil)
		}(i)
		go func() {
			defer wg.Done()
			s.DashboardData()
			s.HealthStatus()
		}()
		go func() {
			defer wg.Done()
			s.Cleanup()
		}()
	}
	wg.Wait()
	if got := s.PerformanceMetrics("", types.TimeRange{}).TotalRequests; got != 20 {
		t.Errorf("TotalRequests: got %d, want 20", got)
	}
}
