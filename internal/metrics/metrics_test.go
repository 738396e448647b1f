package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.SearchesTotal)
	assert.NotNil(t, r.PagesFetchedTotal)
	assert.NotNil(t, r.GetPrometheusRegistry())
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestRecorders(t *testing.T) {
	r := NewRegistry()

	r.RecordPage()
	r.RecordPage()
	r.RecordRetry()
	r.RecordStored(5)
	r.RecordStored(0)
	r.RecordSearch("success", 2*time.Second)
	r.RecordEarlyStop("max_pages")
	done := r.SearchStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.PagesFetchedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PageRetriesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.RecordsStoredTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SearchesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EarlyStopsTotal.WithLabelValues("max_pages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveSearches))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveSearches))
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordPage()
		r.RecordRetry()
		r.RecordSearch("success", time.Second)
		r.RecordAnalysis(3, map[string]int{"frequency": 1})
		r.SearchStarted()()
	})
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.RecordCacheHit()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracelink_cache_hits_total 1")
}
