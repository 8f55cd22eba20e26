package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAnalyzer(t *testing.T) {
	before := testutil.ToFloat64(AnalyzerRuns.WithLabelValues("style", "ok"))
	ObserveAnalyzer("style", "ok", 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(AnalyzerRuns.WithLabelValues("style", "ok")))
}

func TestObserveOracle(t *testing.T) {
	before := testutil.ToFloat64(OracleCalls.WithLabelValues("score", "heuristic", "ok"))
	ObserveOracle("score", "heuristic", "ok", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(OracleCalls.WithLabelValues("score", "heuristic", "ok")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ReviewRuns.WithLabelValues("passed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "revloop_review_runs_total")
}
