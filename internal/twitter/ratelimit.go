package twitter

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Эндпоинты X API, которые использует бот. Сегменты с ':' — параметры:
// все ID попадают в одну корзину квоты.
const (
	EndpointLikingUsers    = "tweets/:id/liking_users"
	EndpointRetweetedBy    = "tweets/:id/retweeted_by"
	EndpointUserTweets     = "users/:id/tweets"
	EndpointUserByUsername = "users/by/username/:username"
	EndpointMe             = "users/me"

	// DefaultBucket — корзина для эндпоинтов без своей настройки.
	DefaultBucket = "default"
)

// Limit — настройки квоты одной корзины.
type Limit struct {
	Requests int           // запросов за окно
	Window   time.Duration // длина фиксированного окна
	CacheTTL time.Duration // сколько хранить ответ в кэше
}

// DefaultLimits — квоты X API v2 (окно 15 минут).
func DefaultLimits() map[string]Limit {
	const w = 15 * time.Minute
	return map[string]Limit{
		EndpointLikingUsers:    {Requests: 75, Window: w, CacheTTL: time.Minute},
		EndpointRetweetedBy:    {Requests: 75, Window: w, CacheTTL: time.Minute},
		EndpointUserTweets:     {Requests: 10, Window: w, CacheTTL: 5 * time.Minute},
		EndpointUserByUsername: {Requests: 100, Window: w, CacheTTL: 24 * time.Hour},
		EndpointMe:             {Requests: 25, Window: w, CacheTTL: time.Hour},
	}
}

// DefaultFallbackLimit — квота корзины DefaultBucket.
var DefaultFallbackLimit = Limit{Requests: 50, Window: 15 * time.Minute, CacheTTL: time.Minute}

// Reservation — результат CheckAndReserve.
type Reservation struct {
	Allowed bool
	Bucket  string
	Count   int
	Limit   int
	ResetAt time.Time

	windowStart time.Time
}

// Status — снимок состояния корзины для мониторинга.
type Status struct {
	Bucket    string        `json:"bucket"`
	Count     int           `json:"count"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetAt   time.Time     `json:"reset_at"`
	ResetIn   time.Duration `json:"reset_in_ns"`
}

// Usage возвращает долю использованной квоты (0..1).
func (s Status) Usage() float64 {
	if s.Limit <= 0 {
		return 1
	}
	return float64(s.Count) / float64(s.Limit)
}

type pattern struct {
	key      string
	segments []string
}

type window struct {
	count int
	start time.Time
}

// Tracker считает запросы по корзинам в фиксированных окнах.
// Начало окна — now.Truncate(Window), поэтому ленивый сброс и сброс
// по расписанию попадают на одну и ту же границу.
type Tracker struct {
	mu       sync.Mutex
	limits   map[string]Limit
	patterns []pattern
	fallback Limit
	windows  map[string]*window
	// блокировки по ответу 429: до этого момента сервер всё равно откажет
	blocked map[string]time.Time
	now     func() time.Time
}

// NewTracker создаёт трекер. Ключи limits с сегментами ':' — шаблоны.
func NewTracker(limits map[string]Limit, fallback Limit) *Tracker {
	t := &Tracker{
		limits:   make(map[string]Limit, len(limits)+1),
		fallback: fallback,
		windows:  make(map[string]*window),
		blocked:  make(map[string]time.Time),
		now:      time.Now,
	}
	for key, l := range limits {
		key = normalizePath(key)
		t.limits[key] = l
		if strings.Contains(key, ":") {
			t.patterns = append(t.patterns, pattern{key: key, segments: strings.Split(key, "/")})
		}
	}
	// Более конкретные шаблоны (меньше параметров) проверяются первыми.
	sort.Slice(t.patterns, func(i, j int) bool {
		pi, pj := countParams(t.patterns[i].segments), countParams(t.patterns[j].segments)
		if pi != pj {
			return pi < pj
		}
		return t.patterns[i].key < t.patterns[j].key
	})
	return t
}

// Resolve приводит конкретный путь к корзине квоты.
// Порядок: точное совпадение → шаблон → корзина по умолчанию.
func (t *Tracker) Resolve(endpoint string) (string, Limit) {
	path := normalizePath(endpoint)
	if l, ok := t.limits[path]; ok && !strings.Contains(path, ":") {
		return path, l
	}
	segments := strings.Split(path, "/")
	for _, p := range t.patterns {
		if matchSegments(p.segments, segments) {
			return p.key, t.limits[p.key]
		}
	}
	return DefaultBucket, t.fallback
}

// CheckAndReserve проверяет квоту и при разрешении занимает слот.
// Отклонённый вызов слот не тратит.
func (t *Tracker) CheckAndReserve(endpoint string) Reservation {
	bucket, limit := t.Resolve(endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	w := t.windowLocked(bucket, limit, now)
	res := Reservation{
		Bucket:      bucket,
		Limit:       limit.Requests,
		ResetAt:     w.start.Add(limit.Window),
		windowStart: w.start,
	}

	if until, ok := t.blocked[bucket]; ok {
		if now.Before(until) {
			res.Count = w.count
			res.ResetAt = until
			return res
		}
		delete(t.blocked, bucket)
	}

	if w.count >= limit.Requests {
		res.Count = w.count
		return res
	}
	w.count++
	res.Count = w.count
	res.Allowed = true
	return res
}

// Release возвращает слот запроса, который не дошёл до сервера
// (таймаут на клиенте, ошибка соединения). Работает только в том же окне.
func (t *Tracker) Release(res Reservation) {
	if !res.Allowed {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[res.Bucket]
	if !ok || !w.start.Equal(res.windowStart) || w.count == 0 {
		return
	}
	w.count--
}

// MarkExhausted фиксирует ответ 429: корзина закрыта до resetAt.
func (t *Tracker) MarkExhausted(endpoint string, resetAt time.Time) {
	bucket, limit := t.Resolve(endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windowLocked(bucket, limit, t.now())
	w.count = limit.Requests
	if resetAt.After(t.now()) {
		t.blocked[bucket] = resetAt
	}
}

// Reset обнуляет все окна. Вызывается планировщиком на границе окна X API.
// Блокировки по 429 сохраняются до своего срока.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.windows = make(map[string]*window)
	t.mu.Unlock()
}

// Status возвращает состояние корзины, в которую попадает endpoint.
func (t *Tracker) Status(endpoint string) Status {
	bucket, limit := t.Resolve(endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(bucket, limit)
}

// Statuses возвращает состояние всех настроенных корзин, отсортированное по имени.
func (t *Tracker) Statuses() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Status, 0, len(t.limits)+1)
	for bucket, limit := range t.limits {
		out = append(out, t.statusLocked(bucket, limit))
	}
	out = append(out, t.statusLocked(DefaultBucket, t.fallback))
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}

// LimitFor возвращает настройки корзины эндпоинта.
func (t *Tracker) LimitFor(endpoint string) Limit {
	_, l := t.Resolve(endpoint)
	return l
}

func (t *Tracker) statusLocked(bucket string, limit Limit) Status {
	now := t.now()
	start := now.Truncate(limit.Window)
	count := 0
	if w, ok := t.windows[bucket]; ok && w.start.Equal(start) {
		count = w.count
	}
	resetAt := start.Add(limit.Window)
	if until, ok := t.blocked[bucket]; ok && now.Before(until) {
		count = limit.Requests
		resetAt = until
	}
	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Bucket:    bucket,
		Count:     count,
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetAt:   resetAt,
		ResetIn:   resetAt.Sub(now),
	}
}

// windowLocked возвращает окно корзины, лениво открывая новое на границе.
func (t *Tracker) windowLocked(bucket string, limit Limit, now time.Time) *window {
	start := now.Truncate(limit.Window)
	w, ok := t.windows[bucket]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		t.windows[bucket] = w
	}
	return w
}

func normalizePath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return strings.Trim(p, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

func countParams(segments []string) int {
	n := 0
	for _, s := range segments {
		if strings.HasPrefix(s, ":") {
			n++
		}
	}
	return n
}
