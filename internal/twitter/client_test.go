package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/cache"
	"github.com/redaxedvg/ebisu/internal/common"
)

var testCreds = Credentials{
	APIKey:       "key",
	APISecret:    "secret",
	AccessToken:  "token",
	AccessSecret: "token-secret",
	BearerToken:  "bearer",
}

func newTestClient(t *testing.T, srv *httptest.Server, limits map[string]Limit, timeout time.Duration) *Client {
	t.Helper()
	tracker := NewTracker(limits, Limit{Requests: 10, Window: 15 * time.Minute, CacheTTL: time.Minute})
	c, err := NewClient(testCreds, tracker, cache.NewMemory(100), Options{
		BaseURL:    srv.URL,
		Timeout:    timeout,
		MaxPages:   3,
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient(Credentials{BearerToken: "b"}, nil, nil, Options{})
	var cfgErr *common.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Missing, 4)
}

// Лимит 1: первый вызов идёт в API, повтор с теми же параметрами — из кэша
// без расхода квоты, вызов с другими параметрами упирается в лимит.
func TestClient_CacheAndRateLimitGate(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer bearer", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[{"id":"A1"}],"meta":{"result_count":1}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, map[string]Limit{
		EndpointLikingUsers: {Requests: 1, Window: 15 * time.Minute, CacheTTL: time.Minute},
	}, time.Second)
	ctx := context.Background()

	first, err := c.Get(ctx, "tweets/1/liking_users", url.Values{"max_results": {"100"}})
	require.NoError(t, err)

	second, err := c.Get(ctx, "tweets/1/liking_users", url.Values{"max_results": {"100"}})
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 1, c.Tracker().Status(EndpointLikingUsers).Count, "попадание в кэш не тратит квоту")

	_, err = c.Get(ctx, "tweets/2/liking_users", url.Values{"max_results": {"100"}})
	var limited *RateLimitExceededError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, EndpointLikingUsers, limited.Endpoint)
	assert.Equal(t, 1, limited.Limit)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	n, err := c.CachedResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClient_WithoutCacheStillConsumesQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil, time.Second)
	ctx := context.Background()

	_, err := c.Get(ctx, "tweets/1/quote_tweets", nil)
	require.NoError(t, err)
	_, err = c.Get(ctx, "tweets/1/quote_tweets", nil, WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, 2, c.Tracker().Status(DefaultBucket).Count)
}

func TestClient_429MapsToRateLimitExceeded(t *testing.T) {
	reset := time.Now().Add(7 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-limit", "75")
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)

	_, err := c.Get(context.Background(), "tweets/1/liking_users", nil)
	var limited *RateLimitExceededError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 75, limited.Limit)
	assert.InDelta(t, (7 * time.Minute).Seconds(), limited.ResetIn.Seconds(), 2)

	st := c.Tracker().Status(EndpointLikingUsers)
	assert.Equal(t, 0, st.Remaining, "после 429 корзина закрыта локально")
}

func TestClient_ServerErrorIsTransientAndCharged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)

	_, err := c.Get(context.Background(), "tweets/1/retweeted_by", nil)
	var transient *TransientAPIError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, http.StatusServiceUnavailable, transient.Status)
	assert.True(t, transient.Reached)
	assert.Equal(t, 1, c.Tracker().Status(EndpointRetweetedBy).Count)
}

func TestClient_TimeoutIsTransientAndReleased(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv, DefaultLimits(), 50*time.Millisecond)

	_, err := c.Get(context.Background(), "tweets/1/liking_users", nil)
	var transient *TransientAPIError
	require.True(t, errors.As(err, &transient))
	assert.True(t, transient.Timeout)
	assert.False(t, transient.Reached)
	assert.Equal(t, 0, c.Tracker().Status(EndpointLikingUsers).Count, "таймаут на клиенте не тратит квоту")
}

func TestClient_NotFoundIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"title":"Not Found Error"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)

	_, err := c.Get(context.Background(), "users/by/username/nobody", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_LikingUsersPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tweets/77/liking_users", r.URL.Path)
		switch r.URL.Query().Get("pagination_token") {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"A1"},{"id":"A2"}],"meta":{"next_token":"p2"}}`)
		case "p2":
			fmt.Fprint(w, `{"data":[{"id":"A3"}],"meta":{}}`)
		default:
			t.Errorf("unexpected token %q", r.URL.Query().Get("pagination_token"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)

	ids, err := c.LikingUsers(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "A3"}, ids)
	assert.Equal(t, 2, c.Tracker().Status(EndpointLikingUsers).Count)
}

func TestClient_UserTweetsAndLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/tweets"):
			assert.Equal(t, "100", r.URL.Query().Get("since_id"))
			fmt.Fprint(w, `{"data":[{"id":"101","text":"gm","created_at":"2026-03-01T10:00:00.000Z"}]}`)
		case strings.HasPrefix(r.URL.Path, "/users/by/username/"):
			fmt.Fprint(w, `{"data":{"id":"A1","username":"alice","name":"Alice"}}`)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)
	ctx := context.Background()

	tweets, err := c.UserTweets(ctx, "42", "100", 20)
	require.NoError(t, err)
	require.Len(t, tweets, 1)
	assert.Equal(t, "101", tweets[0].ID)
	assert.Equal(t, 2026, tweets[0].CreatedAt.Year())

	acc, err := c.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "A1", acc.ID)
}

func TestClient_UserContextIsOAuthSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "OAuth "), auth)
		assert.Contains(t, auth, `oauth_consumer_key="key"`)
		assert.Contains(t, auth, `oauth_signature_method="HMAC-SHA1"`)
		fmt.Fprint(w, `{"data":{"id":"42","username":"community"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, DefaultLimits(), time.Second)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", me.ID)
}
