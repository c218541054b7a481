package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/appmonitor/server/internal/config"
)

const defaultTimeout = 10 * time.Second

// Recorder receives the scraped values. *monitor.Service satisfies it.
type Recorder interface {
	RecordMetric(name string, value float64, tags map[string]string)
}

type observation struct {
	value float64
	at    time.Time
}

// Scraper fetches every configured target on each cycle.
type Scraper struct {
	targets []config.ScrapeTarget
	client  *http.Client
	rec     Recorder
	now     func() time.Time

	mu   sync.Mutex
	prev map[string]observation // keyed by recorded metric name
}

// New returns a Scraper for targets. A nil client gets a default one with a
// 10s timeout.
func New(targets []config.ScrapeTarget, rec Recorder, client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Scraper{
		targets: targets,
		client:  client,
		rec:     rec,
		now:     time.Now,
		prev:    make(map[string]observation),
	}
}

// MetricName is the named metric a family from target is recorded under.
func MetricName(target, family string) string {
	return target + "." + family
}

// Run scrapes all targets every interval until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, interval time.Duration) {
	if len(s.targets) == 0 {
		return
	}
	if interval <= 0 {
		interval = config.DefaultScrapeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = s.ScrapeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.ScrapeOnce(ctx)
		}
	}
}

// ScrapeOnce runs one cycle over every target. A failing target is logged and
// skipped; the joined errors are returned for callers that care.
func (s *Scraper) ScrapeOnce(ctx context.Context) error {
	var errs []error
	for _, t := range s.targets {
		if err := s.scrapeTarget(ctx, t); err != nil {
			slog.Warn("scrape: target failed", "target", t.Name, "endpoint", t.Endpoint, "err", err)
			errs = append(errs, fmt.Errorf("scrape %q: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scraper) scrapeTarget(ctx context.Context, t config.ScrapeTarget) error {
	mfs, err := fetchMetrics(ctx, s.client, t.Endpoint)
	if err != nil {
		return err
	}
	at := s.now()
	tags := map[string]string{"target": t.Name}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, family := range t.Families {
		mf, ok := mfs[family]
		if !ok {
			slog.Debug("scrape: family not exposed", "target", t.Name, "family", family)
			continue
		}
		name := MetricName(t.Name, family)
		value := sumFamily(mf)

		if mf.GetType() != dto.MetricType_COUNTER {
			s.rec.RecordMetric(name, value, tags)
			continue
		}

		prev, seen := s.prev[name]
		s.prev[name] = observation{value: value, at: at}
		if !seen {
			continue
		}
		elapsed := at.Sub(prev.at).Minutes()
		if elapsed <= 0 {
			continue
		}
		s.rec.RecordMetric(name, deltaOf(value, prev.value)/elapsed, tags)
	}
	return nil
}

// deltaOf returns current-previous, or 0 when the counter went backwards.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a text exposition. A partial parse still counts as
// success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a family.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
