package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.EntriesAppended.WithLabelValues("class_award").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.EntriesAppended.WithLabelValues("class_award")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EntriesAppended.WithLabelValues("class_award")))
}

func TestObserveHandler_CountsFailures(t *testing.T) {
	m := New()

	m.ObserveHandler("ledger.entry_appended", time.Millisecond, true)
	m.ObserveHandler("ledger.entry_appended", time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerFailures.WithLabelValues("ledger.entry_appended")))
}

func TestHandler_ServesText(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/health", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `points_http_requests_total{method="GET",route="/health",status="2xx"} 1`))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}
