package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qualisys/qauth"
)

type fakeSource struct {
	snapshot qauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() qauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                   { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: qauth.MetricsSnapshot{
			Counters: map[qauth.MetricID]uint64{
				qauth.MetricLoginSuccess:   7,
				qauth.MetricLoginThrottled: 2,
			},
			Histograms: map[qauth.MetricID][]uint64{
				qauth.MetricValidateLatency: {1, 1, 0, 0, 0, 0, 0, 1},
			},
			HistogramSums: map[qauth.MetricID]time.Duration{
				qauth.MetricValidateLatency: 750 * time.Millisecond,
			},
		},
		dropped: 3,
	}
}

func TestCollectCounters(t *testing.T) {
	exp := NewFromSource(populated())

	want := `
# HELP qauth_login_success_total Successful logins.
# TYPE qauth_login_success_total counter
qauth_login_success_total 7
# HELP qauth_login_throttled_total Logins rejected by the failed-attempt throttle.
# TYPE qauth_login_throttled_total counter
qauth_login_throttled_total 2
# HELP qauth_audit_dropped_total Audit events that never reached the sink.
# TYPE qauth_audit_dropped_total counter
qauth_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(want),
		"qauth_login_success_total",
		"qauth_login_throttled_total",
		"qauth_audit_dropped_total",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectHistogram(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewFromSource(populated()))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "qauth_validate_latency_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 3 {
			t.Fatalf("count = %d, want 3", h.GetSampleCount())
		}
		if h.GetSampleSum() != 0.75 {
			t.Fatalf("sum = %v, want 0.75", h.GetSampleSum())
		}
		b := h.GetBucket()
		if b[0].GetUpperBound() != 0.005 || b[0].GetCumulativeCount() != 1 {
			t.Fatalf("first bucket = %v/%d", b[0].GetUpperBound(), b[0].GetCumulativeCount())
		}
		if b[1].GetCumulativeCount() != 2 {
			t.Fatalf("second bucket = %d, want 2", b[1].GetCumulativeCount())
		}
		return
	}
	t.Fatal("histogram not gathered")
}

func TestCollectSkipsDisabledCounters(t *testing.T) {
	exp := NewFromSource(fakeSource{snapshot: qauth.MetricsSnapshot{}})
	if n := testutil.CollectAndCount(exp); n != 1 {
		t.Fatalf("collected %d metrics, want only the audit counter", n)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	srv := httptest.NewServer(NewFromSource(populated()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		"qauth_login_success_total 7",
		`qauth_validate_latency_seconds_bucket{le="+Inf"} 3`,
		"qauth_validate_latency_seconds_count 3",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestEngineExporter(t *testing.T) {
	exp := New(nil)
	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("nil engine collected %d metrics", n)
	}
}
