package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.VersionAssigned("initial")
	m.MatcherUnresolved()
	m.AutoIntegrateOutcome("created")
	m.SweepBranch("ok")
	m.ObserveMatch(0.1)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.MatcherUnresolved()
	m.MatcherUnresolved()
	m.AutoIntegrateOutcome("created")

	if got := testutil.ToFloat64(m.matcherUnresolved); got != 2 {
		t.Fatalf("matcher unresolved=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.autoIntegrateOutcomes.WithLabelValues("created")); got != 1 {
		t.Fatalf("created outcomes=%v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tessera_matcher_unresolved_release_total 2") {
		t.Fatalf("expected matcher counter in exposition, got:\n%s", body)
	}
}
