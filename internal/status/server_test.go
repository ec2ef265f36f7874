package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/jobs"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

func newTestRouter() http.Handler {
	return NewRouter(Sources{
		RateLimits: func() []twitter.Status {
			return []twitter.Status{{Bucket: twitter.EndpointLikingUsers, Count: 3, Limit: 75, Remaining: 72}}
		},
		CachedResponses: func(context.Context) (int, error) { return 4, nil },
		Jobs: func() []jobs.Status {
			return []jobs.Status{{Name: jobs.JobStatsFlush, State: jobs.StateIdle, LastResult: jobs.ResultSuccess, Runs: 9}}
		},
		PendingStats: func() int { return 2 },
	})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestRouter(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRateLimits(t *testing.T) {
	rec := get(t, newTestRouter(), "/status/ratelimits")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp rateLimitsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Buckets, 1)
	assert.Equal(t, 72, resp.Buckets[0].Remaining)
	assert.Equal(t, 4, resp.CachedResponses)
}

func TestJobs(t *testing.T) {
	rec := get(t, newTestRouter(), "/status/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, jobs.JobStatsFlush, resp.Jobs[0].Name)
	assert.Equal(t, 9, resp.Jobs[0].Runs)
	assert.Equal(t, 2, resp.PendingStats)
}

func TestUnknownPath(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(t, newTestRouter(), "/status/nope").Code)
}
