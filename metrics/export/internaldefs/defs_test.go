package internaldefs

import (
	"strings"
	"testing"

	"github.com/qualisys/qauth"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[qauth.MetricID]bool, len(CounterDefs))
	names := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate id %d", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, Namespace+"_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for id := qauth.MetricLoginSuccess; id < qauth.MetricValidateLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric %d has no counter definition", id)
		}
	}
}

func TestBoundSuffix(t *testing.T) {
	if got := BoundSuffix(0); got != "0_005" {
		t.Fatalf("BoundSuffix(0) = %q", got)
	}
	if got := BoundSuffix(BucketCount - 1); got != "inf" {
		t.Fatalf("last suffix = %q", got)
	}
	if len(UpperBounds()) != BucketCount-1 {
		t.Fatalf("UpperBounds len = %d", len(UpperBounds()))
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 0, 2}))
	want := [BucketCount]uint64{1, 1, 3, 3, 3, 3, 3, 3}
	if got != want {
		t.Fatalf("CumulativeBuckets = %v, want %v", got, want)
	}
}
