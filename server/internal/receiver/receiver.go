package receiver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Recorder is the ingestion side of the monitoring engine.
type Recorder interface {
	RecordAPIPerformance(endpoint, method string, responseTimeMs, statusCode int)
	RecordSecurityEvent(event string, severity types.Severity, data map[string]any)
	RecordUserMetric(userID, metricType string, value float64)
	RecordMetric(name string, value float64, tags map[string]string)
}

// Receiver serves the ingestion endpoints.
type Receiver struct {
	rec     Recorder
	limiter *Limiter
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New creates a Receiver that records accepted payloads into rec.
// limiter and m may be nil.
func New(rec Recorder, limiter *Limiter, m *metrics.Metrics) http.Handler {
	r := &Receiver{rec: rec, limiter: limiter, metrics: m, mux: http.NewServeMux()}

	r.mux.HandleFunc("/api/v1/ingest/performance", r.performance)
	r.mux.HandleFunc("/api/v1/ingest/security", r.security)
	r.mux.HandleFunc("/api/v1/ingest/user-metrics", r.userMetrics)
	r.mux.HandleFunc("/api/v1/ingest/metrics", r.namedMetrics)

	return r
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.limiter.Allow(req) {
		r.metrics.RateLimitDropped()
		jsonErr(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	r.mux.ServeHTTP(w, req)
}

type performancePayload struct {
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	ResponseTime *int   `json:"responseTime"`
	StatusCode   int    `json:"statusCode"`
}

func (p performancePayload) validate() error {
	switch {
	case p.Endpoint == "":
		return errors.New("endpoint is required")
	case p.Method == "":
		return errors.New("method is required")
	case p.ResponseTime == nil:
		return errors.New("responseTime is required")
	case *p.ResponseTime < 0:
		return errors.New("responseTime must not be negative")
	case p.StatusCode < 100 || p.StatusCode > 599:
		return fmt.Errorf("statusCode %d is out of range [100, 599]", p.StatusCode)
	}
	return nil
}

type securityPayload struct {
	Event    string         `json:"event"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data"`
}

func (p securityPayload) validate() error {
	if p.Event == "" {
		return errors.New("event is required")
	}
	if _, ok := types.ParseSeverity(p.Severity); !ok {
		return fmt.Errorf("severity %q unknown: want low|medium|high|critical", p.Severity)
	}
	return nil
}

type userMetricPayload struct {
	UserID     string   `json:"userId"`
	MetricType string   `json:"metricType"`
	Value      *float64 `json:"value"`
}

func (p userMetricPayload) validate() error {
	switch {
	case p.UserID == "":
		return errors.New("userId is required")
	case p.MetricType == "":
		return errors.New("metricType is required")
	case p.Value == nil:
		return errors.New("value is required")
	}
	return nil
}

type metricPayload struct {
	Name  string            `json:"name"`
	Value *float64          `json:"value"`
	Tags  map[string]string `json:"tags"`
}

func (p metricPayload) validate() error {
	switch {
	case p.Name == "":
		return errors.New("name is required")
	case p.Value == nil:
		return errors.New("value is required")
	}
	return nil
}

func (r *Receiver) performance(w http.ResponseWriter, req *http.Request) {
	items, ok := decodeBatch[performancePayload](w, req)
	if !ok {
		return
	}
	for _, p := range items {
		r.rec.RecordAPIPerformance(p.Endpoint, p.Method, *p.ResponseTime, p.StatusCode)
	}
	accepted(w, "performance", len(items))
}

func (r *Receiver) security(w http.ResponseWriter, req *http.Request) {
	items, ok := decodeBatch[securityPayload](w, req)
	if !ok {
		return
	}
	for _, p := range items {
		sev, _ := types.ParseSeverity(p.Severity)
		r.rec.RecordSecurityEvent(p.Event, sev, p.Data)
	}
	accepted(w, "security", len(items))
}

func (r *Receiver) userMetrics(w http.ResponseWriter, req *http.Request) {
	items, ok := decodeBatch[userMetricPayload](w, req)
	if !ok {
		return
	}
	for _, p := range items {
		r.rec.RecordUserMetric(p.UserID, p.MetricType, *p.Value)
	}
	accepted(w, "user_metrics", len(items))
}

func (r *Receiver) namedMetrics(w http.ResponseWriter, req *http.Request) {
	items, ok := decodeBatch[metricPayload](w, req)
	if !ok {
		return
	}
	for _, p := range items {
		r.rec.RecordMetric(p.Name, *p.Value, p.Tags)
	}
	accepted(w, "metrics", len(items))
}

type validator interface {
	validate() error
}

// decodeBatch reads a POST body holding one T or an array of T and validates
// every item. On failure it writes the error response and returns false.
func decodeBatch[T validator](w http.ResponseWriter, req *http.Request) ([]T, bool) {
	if req.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&raw); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	var items []T
	if trimmed := bytes.TrimLeft(raw, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON array")
			return nil, false
		}
	} else {
		var one T
		if err := json.Unmarshal(raw, &one); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON object")
			return nil, false
		}
		items = []T{one}
	}

	if len(items) == 0 {
		jsonErr(w, http.StatusBadRequest, "empty batch")
		return nil, false
	}
	for i, it := range items {
		if err := it.validate(); err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("item %d: %v", i, err))
			return nil, false
		}
	}
	return items, true
}

func accepted(w http.ResponseWriter, family string, n int) {
	slog.Debug("receiver: batch recorded", "family", family, "count", n)
	jsonResp(w, http.StatusAccepted, ingestResponse{Accepted: n})
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
