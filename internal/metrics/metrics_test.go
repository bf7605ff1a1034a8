package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCycle(t *testing.T) {
	before := testutil.ToFloat64(cyclesTotal.WithLabelValues(ResultOK))
	ObserveCycle(ResultOK, 250*time.Millisecond)
	if got := testutil.ToFloat64(cyclesTotal.WithLabelValues(ResultOK)); got != before+1 {
		t.Errorf("cycles ok = %f, want %f", got, before+1)
	}
}

func TestObserveRejected(t *testing.T) {
	before := testutil.ToFloat64(itemsRejectedTotal.WithLabelValues("domain"))
	ObserveRejected("domain")
	ObserveRejected("domain")
	if got := testutil.ToFloat64(itemsRejectedTotal.WithLabelValues("domain")); got != before+2 {
		t.Errorf("rejected domain = %f, want %f", got, before+2)
	}
}

func TestSetScheduledJobs(t *testing.T) {
	SetScheduledJobs(7)
	if got := testutil.ToFloat64(scheduledJobs); got != 7 {
		t.Errorf("scheduled jobs = %f, want 7", got)
	}
}

func TestHandler(t *testing.T) {
	ObserveDispatched()
	ObserveFireDropped()
	ObserveDispatchFailure(FailureDelivery)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"relay_items_dispatched_total",
		"relay_fires_dropped_total",
		"relay_dispatch_failures_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
