package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/cache"
	"github.com/redaxedvg/ebisu/internal/common"
)

const (
	DefaultBaseURL = "https://api.twitter.com/2"

	cacheKeyPrefix = "twitter:"
	maxBodyBytes   = 4 << 20
)

// Credentials — учётные данные X API.
// Bearer используется для чтения, остальные четыре — для OAuth1-подписи.
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
	BearerToken  string
}

func (c Credentials) missing() []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"TWITTER_API_KEY", c.APIKey},
		{"TWITTER_API_SECRET", c.APISecret},
		{"TWITTER_ACCESS_TOKEN", c.AccessToken},
		{"TWITTER_ACCESS_SECRET", c.AccessSecret},
		{"TWITTER_BEARER_TOKEN", c.BearerToken},
	} {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// Options — необязательные настройки клиента.
type Options struct {
	BaseURL    string
	Timeout    time.Duration // таймаут одного запроса
	MaxPages   int           // сколько страниц читать при пагинации
	HTTPClient *http.Client
}

// Client — клиент X API: кэш → квота → HTTP.
type Client struct {
	baseURL  string
	bearer   string
	timeout  time.Duration
	maxPages int

	http  *http.Client // app-context запросы (Bearer)
	oauth *http.Client // user-context запросы (OAuth1)

	tracker *Tracker
	cache   cache.Store
}

// NewClient создаёт клиент. Без полного набора учётных данных не работает:
// ошибка конфигурации возвращается сразу, а не на первом запросе.
func NewClient(creds Credentials, tracker *Tracker, store cache.Store, opts Options) (*Client, error) {
	if missing := creds.missing(); len(missing) > 0 {
		return nil, &common.ConfigurationError{Missing: missing}
	}
	if tracker == nil {
		tracker = NewTracker(DefaultLimits(), DefaultFallbackLimit)
	}
	if store == nil {
		store = cache.NewMemory(1000)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}

	oauthCtx := context.WithValue(context.Background(), oauth1.HTTPClient, base)
	oauthClient := oauth1.NewConfig(creds.APIKey, creds.APISecret).
		Client(oauthCtx, oauth1.NewToken(creds.AccessToken, creds.AccessSecret))

	return &Client{
		baseURL:  strings.TrimSuffix(opts.BaseURL, "/"),
		bearer:   creds.BearerToken,
		timeout:  opts.Timeout,
		maxPages: opts.MaxPages,
		http:     base,
		oauth:    oauthClient,
		tracker:  tracker,
		cache:    store,
	}, nil
}

// Tracker возвращает трекер квот клиента (для статуса и сброса окон).
func (c *Client) Tracker() *Tracker { return c.tracker }

type getOptions struct {
	skipCache   bool
	ttl         time.Duration
	userContext bool
}

// GetOption настраивает один вызов Get.
type GetOption func(*getOptions)

// WithoutCache — не читать ответ из кэша (но записать свежий).
func WithoutCache() GetOption { return func(o *getOptions) { o.skipCache = true } }

// WithCacheTTL переопределяет TTL корзины для этого ответа.
func WithCacheTTL(ttl time.Duration) GetOption { return func(o *getOptions) { o.ttl = ttl } }

// WithUserContext подписывает запрос OAuth1 вместо Bearer.
func WithUserContext() GetOption { return func(o *getOptions) { o.userContext = true } }

// Get выполняет GET к эндпоинту. Ответ из кэша квоту не тратит.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, opts ...GetOption) (json.RawMessage, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	endpoint = normalizePath(endpoint)
	key := cacheKey(endpoint, params)

	if !o.skipCache {
		data, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("Кэш X недоступен, идём в API")
		} else if ok {
			return data, nil
		}
	}

	res := c.tracker.CheckAndReserve(endpoint)
	if !res.Allowed {
		return nil, &RateLimitExceededError{
			Endpoint: res.Bucket,
			Current:  res.Count,
			Limit:    res.Limit,
			ResetIn:  time.Until(res.ResetAt),
		}
	}

	body, err := c.do(ctx, endpoint, params, o.userContext)
	if err != nil {
		var transient *TransientAPIError
		if errors.As(err, &transient) && !transient.Reached {
			c.tracker.Release(res)
		}
		var limited *RateLimitExceededError
		if errors.As(err, &limited) {
			c.tracker.MarkExhausted(endpoint, time.Now().Add(limited.ResetIn))
		}
		return nil, err
	}

	ttl := o.ttl
	if ttl <= 0 {
		ttl = c.tracker.LimitFor(endpoint).CacheTTL
	}
	if err := c.cache.Set(ctx, key, body, ttl); err != nil {
		log.WithError(err).WithField("key", key).Warn("Не удалось сохранить ответ X в кэш")
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, userContext bool) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса %s: %w", endpoint, err)
	}

	httpClient := c.http
	if userContext {
		httpClient = c.oauth
	} else {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &TransientAPIError{Endpoint: endpoint, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransientAPIError{Endpoint: endpoint, Status: resp.StatusCode, Timeout: isTimeout(err), Reached: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitFromResponse(endpoint, resp, c.tracker.LimitFor(endpoint))
	case resp.StatusCode >= 500:
		return nil, &TransientAPIError{Endpoint: endpoint, Status: resp.StatusCode, Reached: true}
	case resp.StatusCode >= 400:
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: truncate(string(body), 300)}
	}
	return body, nil
}

// rateLimitFromResponse разбирает заголовки ответа 429.
// x-rate-limit-reset — unix-время сброса, Retry-After — секунды.
func rateLimitFromResponse(endpoint string, resp *http.Response, limit Limit) *RateLimitExceededError {
	e := &RateLimitExceededError{Endpoint: endpoint, Limit: limit.Requests, Current: limit.Requests}
	if v, err := strconv.Atoi(resp.Header.Get("x-rate-limit-limit")); err == nil && v > 0 {
		e.Limit, e.Current = v, v
	}
	if v, err := strconv.ParseInt(resp.Header.Get("x-rate-limit-reset"), 10, 64); err == nil && v > 0 {
		e.ResetIn = time.Until(time.Unix(v, 0))
	} else if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
		e.ResetIn = time.Duration(v) * time.Second
	}
	if e.ResetIn <= 0 {
		e.ResetIn = limit.Window
	}
	return e
}

func cacheKey(endpoint string, params url.Values) string {
	// Encode сортирует ключи: одинаковые параметры дают один ключ.
	return cacheKeyPrefix + endpoint + "?" + params.Encode()
}

// CachedResponses возвращает число ответов X в кэше (диагностика).
func (c *Client) CachedResponses(ctx context.Context) (int, error) {
	return c.cache.Count(ctx, cacheKeyPrefix)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
