package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/appmonitor/pkg/types"
	"github.com/obsidianstack/appmonitor/server/internal/metrics"
)

const defaultWebhookTimeout = 10 * time.Second

// Channel is one resolved notification target.
type Channel struct {
	Name string
	Type string // "slack" | "discord" | "teams" | "http"
	URL  string
}

// Dispatcher posts every alert it is notified of to all configured channels.
// Each delivery runs on its own goroutine; failures are logged and counted,
// never retried and never reported back to the caller.
type Dispatcher struct {
	channels []Channel
	client   *http.Client
	log      *slog.Logger
	metrics  *metrics.Metrics

	// gate keeps wg.Add out of a running wg.Wait: Notify holds it shared,
	// Wait exclusively.
	gate sync.RWMutex
	wg   sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for channels. Channels without a URL or
// with an unknown type are dropped here so Notify never has to check.
// A nil logger falls back to slog.Default().
func NewDispatcher(channels []Channel, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		client:  &http.Client{Timeout: timeout},
		log:     logger,
		metrics: m,
	}
	for _, ch := range channels {
		if ch.URL == "" {
			continue
		}
		switch ch.Type {
		case "slack", "discord", "teams", "http":
			d.channels = append(d.channels, ch)
		default:
			logger.Warn("alerts: unknown webhook type, skipping", "channel", ch.Name, "type", ch.Type)
		}
	}
	return d
}

// Channels returns the channels that survived construction.
func (d *Dispatcher) Channels() []Channel {
	return append([]Channel(nil), d.channels...)
}

// Notify starts one delivery goroutine per channel and returns immediately.
// While a Wait is in progress, Notify blocks until it returns.
func (d *Dispatcher) Notify(a types.Alert) {
	d.gate.RLock()
	defer d.gate.RUnlock()
	for _, ch := range d.channels {
		d.wg.Add(1)
		go d.deliver(ch, a)
	}
}

// Wait blocks until every delivery started before the call has finished.
// Call it once alert producers have stopped; alerts created while it runs are
// delivered afterwards and are not waited for.
func (d *Dispatcher) Wait() {
	d.gate.Lock()
	defer d.gate.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ch Channel, a types.Alert) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.WebhookDelivered(ch.Name, fmt.Errorf("panic: %v", r))
			d.log.Error("alerts: webhook delivery panicked",
				"channel", ch.Name,
				"alert", a.ID,
				"panic", r,
			)
		}
	}()

	body, err := render(ch.Type, a)
	if err == nil {
		err = d.post(ch.URL, body)
	}
	d.metrics.WebhookDelivered(ch.Name, err)

	if err != nil {
		d.log.Error("alerts: webhook delivery failed",
			"channel", ch.Name,
			"type", ch.Type,
			"alert", a.ID,
			"err", err,
		)
		return
	}
	d.log.Debug("alerts: webhook delivered",
		"channel", ch.Name,
		"alert", a.ID,
	)
}

func (d *Dispatcher) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Title renders the notification headline for an alert type,
// e.g. "test_alert" becomes "TEST_ALERT Alert".
func Title(alertType string) string {
	return strings.ToUpper(alertType) + " Alert"
}

func render(chType string, a types.Alert) ([]byte, error) {
	data, err := json.MarshalIndent(a.Data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal alert data: %w", err)
	}
	title := Title(a.Type)
	ts := a.Timestamp.UTC().Format(time.RFC3339)

	var payload any
	switch chType {
	case "slack":
		payload = map[string]any{
			"text": fmt.Sprintf("*%s* %s", title, severityLabel(a.Severity)),
			"attachments": []map[string]any{{
				"color": "#" + severityColor(a.Severity),
				"fields": []map[string]any{
					{"title": "Severity", "value": string(a.Severity), "short": true},
					{"title": "Time", "value": ts, "short": true},
					{"title": "Details", "value": "```" + string(data) + "```"},
				},
			}},
		}
	case "discord":
		payload = map[string]any{
			"embeds": []map[string]any{{
				"title":       title,
				"description": "```json\n" + string(data) + "\n```",
				"color":       severityColorInt(a.Severity),
				"timestamp":   ts,
				"fields": []map[string]any{
					{"name": "Severity", "value": string(a.Severity), "inline": true},
					{"name": "Alert ID", "value": a.ID, "inline": true},
				},
			}},
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(a.Severity),
			"summary":    title,
			"title":      title,
			"sections": []map[string]any{{
				"facts": []map[string]string{
					{"name": "Severity", "value": string(a.Severity)},
					{"name": "Time", "value": ts},
				},
				"text": "<pre>" + string(data) + "</pre>",
			}},
		}
	default:
		payload = map[string]any{"title": title, "alert": a}
	}
	return json.Marshal(payload)
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "[CRITICAL]"
	case types.SeverityHigh:
		return "[HIGH]"
	case types.SeverityMedium:
		return "[MEDIUM]"
	default:
		return "[LOW]"
	}
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return "FF4F6A"
	case types.SeverityHigh:
		return "FF8C42"
	case types.SeverityMedium:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

func severityColorInt(s types.Severity) int {
	v, _ := strconv.ParseInt(severityColor(s), 16, 32)
	return int(v)
}
