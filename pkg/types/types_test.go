package types

import (
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in     string
		want   Severity
		wantOK bool
	}{
		{"low", SeverityLow, true},
		{"HIGH", SeverityHigh, true},
		{" critical ", SeverityCritical, true},
		{"medium", SeverityMedium, true},
		{"urgent", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseSeverity(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ParseSeverity(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestSeverity_AtLeastHigh(t *testing.T) {
	for sev, want := range map[Severity]bool{
		SeverityLow:      false,
		SeverityMedium:   false,
		SeverityHigh:     true,
		SeverityCritical: true,
	} {
		if got := sev.AtLeastHigh(); got != want {
			t.Errorf("%s.AtLeastHigh() = %v, want %v", sev, got, want)
		}
	}
}

func TestTimeRange_Contains(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := TimeRange{Start: base, End: base.Add(time.Hour)}

	if !r.Contains(base) {
		t.Error("start boundary should be contained")
	}
	if !r.Contains(base.Add(time.Hour)) {
		t.Error("end boundary should be contained")
	}
	if r.Contains(base.Add(-time.Nanosecond)) {
		t.Error("instant before start should not be contained")
	}
	if r.Contains(base.Add(time.Hour + time.Nanosecond)) {
		t.Error("instant after end should not be contained")
	}
}

func TestTimeRange_ZeroIsUnbounded(t *testing.T) {
	var r TimeRange
	if !r.Contains(time.Time{}) || !r.Contains(time.Now()) {
		t.Error("zero TimeRange should contain every instant")
	}
	since := Since(time.Now().Add(-time.Minute))
	if !since.Contains(time.Now().Add(24 * time.Hour)) {
		t.Error("Since range should have an open end")
	}
}

func TestCloneData_Deep(t *testing.T) {
	src := map[string]any{
		"user":  map[string]any{"id": "u1"},
		"hops":  []any{"a", map[string]any{"ip": "10.0.0.1"}},
		"tags":  map[string]string{"env": "prod"},
		"count": 3,
	}
	cp := CloneData(src)

	src["user"].(map[string]any)["id"] = "u2"
	src["hops"].([]any)[1].(map[string]any)["ip"] = "changed"
	src["tags"].(map[string]string)["env"] = "dev"
	src["count"] = 4

	if cp["user"].(map[string]any)["id"] != "u1" {
		t.Error("nested map shared with source")
	}
	if cp["hops"].([]any)[1].(map[string]any)["ip"] != "10.0.0.1" {
		t.Error("map inside slice shared with source")
	}
	if cp["tags"].(map[string]string)["env"] != "prod" {
		t.Error("string map shared with source")
	}
	if cp["count"] != 3 {
		t.Errorf("count: got %v, want 3", cp["count"])
	}
}

func TestCloneData_NilYieldsEmpty(t *testing.T) {
	if got := CloneData(nil); got == nil || len(got) != 0 {
		t.Errorf("CloneData(nil) = %#v, want empty non-nil map", got)
	}
}
