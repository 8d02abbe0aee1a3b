package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector("wiki")

	c.RecordEdit("saved", 10*time.Millisecond)
	c.RecordEdit("saved", 20*time.Millisecond)
	c.RecordEdit("conflict", time.Millisecond)
	c.RecordPropagationFailure("add_inlink")
	c.RecordReconcile(true)
	c.RecordReconcile(false)
	c.RecordCache("hit")
	c.RecordRecommendRun()

	if got := testutil.ToFloat64(c.Edits.WithLabelValues("saved")); got != 2 {
		t.Errorf("expected 2 saved edits, got %v", got)
	}
	if got := testutil.ToFloat64(c.ReconcileJobs.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failed reconcile, got %v", got)
	}
	if got := testutil.ToFloat64(c.RecommendRuns); got != 1 {
		t.Errorf("expected 1 recommend run, got %v", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordEdit("saved", time.Second)
	c.RecordCache("miss")
	c.RecordReconcile(true)
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors in one process must not collide on registration.
	a := NewCollector("wiki")
	b := NewCollector("wiki")
	a.RecordCache("hit")
	if got := testutil.ToFloat64(b.CacheRequests.WithLabelValues("hit")); got != 0 {
		t.Errorf("expected separate registries, got %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("wiki")
	c.RecordEdit("saved", time.Millisecond)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `wiki_edits_total{result="saved"} 1`) {
		t.Errorf("expected edits counter in output, got:\n%s", rr.Body.String())
	}
}
