package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/monitor"
)

// Handler is the HTTP handler for the /api/v1 query endpoints.
type Handler struct {
	svc *monitor.Service
	mux *http.ServeMux
}

// New creates a Handler wired to svc and registers all routes.
func New(svc *monitor.Service) http.Handler {
	h := &Handler{svc: svc, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/performance", h.performance)
	h.mux.HandleFunc("/api/v1/security/events", h.securityEvents)
	h.mux.HandleFunc("/api/v1/users/", h.userMetrics) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/metrics", h.listMetrics)
	h.mux.HandleFunc("/api/v1/metrics/", h.getMetric) // subtree, extracts {name}
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.ackAlert) // subtree, extracts {id}/ack
	h.mux.HandleFunc("/api/v1/dashboard", h.dashboard)
	h.mux.HandleFunc("/api/v1/cleanup", h.cleanup)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health. The status code is always 200; the
// verdict is in the body.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.svc.HealthStatus())
}

// performance returns GET /api/v1/performance.
func (h *Handler) performance(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	tr, err := parseRange(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	endpoint := r.URL.Query().Get("endpoint")
	jsonResp(w, http.StatusOK, PerformanceResponse{
		Endpoint: endpoint,
		Range:    tr,
		Summary:  h.svc.PerformanceMetrics(endpoint, tr),
	})
}

// securityEvents returns GET /api/v1/security/events.
func (h *Handler) securityEvents(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	tr, err := parseRange(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.svc.SecurityEvents(tr)))
}

// userMetrics returns GET /api/v1/users/{id}/metrics.
func (h *Handler) userMetrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" || tail != "metrics" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("days %q is not an integer", v))
			return
		}
		days = n
	}
	jsonResp(w, http.StatusOK, nonNil(h.svc.UserMetrics(id, r.URL.Query().Get("type"), days)))
}

// listMetrics returns GET /api/v1/metrics, the names of every named metric.
func (h *Handler) listMetrics(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, nonNil(h.svc.MetricNames()))
}

// getMetric returns GET /api/v1/metrics/{name}. Unknown names yield an empty
// point list, not a 404, since a series only exists once written.
func (h *Handler) getMetric(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/metrics/")
	if name == "" {
		h.listMetrics(w, r)
		return
	}
	tr, err := parseRange(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, MetricResponse{Name: name, Points: nonNil(h.svc.Metric(name, tr))})
}

// alerts serves GET (list) and POST (create) on /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var sev types.Severity
		if v := r.URL.Query().Get("severity"); v != "" {
			s, ok := types.ParseSeverity(v)
			if !ok {
				jsonErr(w, http.StatusBadRequest, fmt.Sprintf("severity %q unknown", v))
				return
			}
			sev = s
		}
		jsonResp(w, http.StatusOK, nonNil(h.svc.Alerts(sev)))

	case http.MethodPost:
		var req CreateAlertRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Type == "" {
			jsonErr(w, http.StatusBadRequest, "type is required")
			return
		}
		sev, ok := types.ParseSeverity(req.Severity)
		if !ok {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("severity %q unknown", req.Severity))
			return
		}
		jsonResp(w, http.StatusCreated, h.svc.CreateAlert(req.Type, sev, req.Data))

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ackAlert serves POST /api/v1/alerts/{id}/ack.
func (h *Handler) ackAlert(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	if rest == "" {
		h.alerts(w, r)
		return
	}
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" || tail != "ack" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if !allow(w, r, http.MethodPost) {
		return
	}
	if !h.svc.AcknowledgeAlert(id) {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	jsonResp(w, http.StatusOK, AckResponse{ID: id, Acknowledged: true})
}

// dashboard returns GET /api/v1/dashboard.
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.svc.DashboardData())
}

// cleanup runs POST /api/v1/cleanup and reports what was removed.
func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	jsonResp(w, http.StatusOK, h.svc.Cleanup())
}

// --- helpers ----------------------------------------------------------------

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// parseRange reads the optional start and end query parameters.
func parseRange(r *http.Request) (types.TimeRange, error) {
	var tr types.TimeRange
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"start", &tr.Start}, {"end", &tr.End}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return tr, fmt.Errorf("%s %q is not an RFC3339 time", p.key, v)
		}
		*p.dst = t
	}
	return tr, nil
}

// nonNil makes empty results encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
