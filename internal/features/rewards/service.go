// Package rewards — service.go содержит бизнес-логику наград:
// применение взаимодействий, опрос X, финальную проверку и досчёт.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

// EngagementSource — откуда берутся взаимодействия (клиент X API).
type EngagementSource interface {
	LikingUsers(ctx context.Context, postID string) ([]string, error)
	RetweetedBy(ctx context.Context, postID string) ([]string, error)
	UserTweets(ctx context.Context, accountID, sinceID string, max int) ([]twitter.Tweet, error)
}

// AccountResolver сопоставляет ID аккаунтов X участникам.
type AccountResolver interface {
	ResolveLinked(ctx context.Context, accountIDs []string) (map[string]int64, error)
}

// Options — настройки наград и окон опроса.
type Options struct {
	AccountID        string        // аккаунт сообщества в X
	LikeCoins        int64         // монет за лайк
	RetweetCoins     int64         // монет за ретвит
	NearTermWindow   time.Duration // сколько опрашивать свежий пост
	FinalCheckAge    time.Duration // возраст поста для финальной проверки
	FinalMaxAttempts int           // после стольких попыток пост закрывается без успеха
	FinalBatch       int           // постов за один проход финальной проверки
	DiscoverMax      int           // постов за один запрос ленты
}

func (o *Options) withDefaults() {
	if o.LikeCoins <= 0 {
		o.LikeCoins = 1
	}
	if o.RetweetCoins <= 0 {
		o.RetweetCoins = 2
	}
	if o.NearTermWindow <= 0 {
		o.NearTermWindow = 24 * time.Hour
	}
	if o.FinalCheckAge <= 0 {
		o.FinalCheckAge = 48 * time.Hour
	}
	if o.FinalMaxAttempts <= 0 {
		o.FinalMaxAttempts = 3
	}
	if o.FinalBatch <= 0 {
		o.FinalBatch = 20
	}
	if o.DiscoverMax <= 0 {
		o.DiscoverMax = 20
	}
}

// Service начисляет награды за взаимодействия с постами.
type Service struct {
	repo     Store
	accounts AccountResolver
	source   EngagementSource
	locks    *postLocks
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис наград.
func NewService(repo Store, accounts AccountResolver, source EngagementSource, opts Options) *Service {
	opts.withDefaults()
	return &Service{
		repo:     repo,
		accounts: accounts,
		source:   source,
		locks:    newPostLocks(),
		opts:     opts,
		now:      time.Now,
	}
}

// ApplyInteractions сливает новые ID в пост и выдаёт недостающие награды.
// Возвращает число новых наград. Повторный вызов с теми же ID ничего не начисляет.
func (s *Service) ApplyInteractions(ctx context.Context, postID string, likers, retweeters []string) (int, error) {
	unlock := s.locks.Lock(postID)
	defer unlock()

	post, err := s.repo.MergeEngagers(ctx, postID, likers, retweeters)
	if err != nil {
		return 0, err
	}
	return s.reward(ctx, post, likers, retweeters)
}

// reward выдаёт награды участникам из likers/retweeters, которых ещё нет
// в наборах поста. Ошибка одной награды не мешает остальным:
// неотмеченный участник получит награду на следующем проходе.
func (s *Service) reward(ctx context.Context, post *Post, likers, retweeters []string) (int, error) {
	ids := union(likers, retweeters)
	if len(ids) == 0 {
		return 0, nil
	}
	linked, err := s.accounts.ResolveLinked(ctx, ids)
	if err != nil {
		return 0, err
	}
	if len(linked) == 0 {
		return 0, nil
	}

	granted := 0
	var errs []error
	for _, batch := range []struct {
		kind  Kind
		ids   []string
		coins int64
	}{
		{KindLike, likers, s.opts.LikeCoins},
		{KindRetweet, retweeters, s.opts.RetweetCoins},
	} {
		seen := make(map[int64]bool)
		for _, accountID := range batch.ids {
			userID, ok := linked[accountID]
			if !ok || seen[userID] || post.Rewarded(userID, batch.kind) {
				continue
			}
			seen[userID] = true

			logger := log.WithFields(log.Fields{
				"post_id": post.PostID,
				"user_id": userID,
				"kind":    batch.kind,
			})
			done, err := s.repo.Grant(ctx, post.PostID, userID, batch.kind, batch.coins)
			if err != nil {
				logger.WithError(err).Warn("Награда не выдана, повторим на следующем проходе")
				errs = append(errs, fmt.Errorf("награда %s post=%s user=%d: %w", batch.kind, post.PostID, userID, err))
				continue
			}
			if done {
				granted++
				logger.WithField("coins", batch.coins).Info("Награда выдана")
			}
		}
	}
	return granted, errors.Join(errs...)
}

// PollPost запрашивает лайкнувших и ретвитнувших и применяет их.
// Если ретвиты получить не удалось, лайки всё равно применяются.
func (s *Service) PollPost(ctx context.Context, postID string) (int, error) {
	likers, err := s.source.LikingUsers(ctx, postID)
	if err != nil {
		return 0, err
	}
	retweeters, rtErr := s.source.RetweetedBy(ctx, postID)

	granted, err := s.ApplyInteractions(ctx, postID, likers, retweeters)
	if err != nil {
		return granted, err
	}
	if rtErr != nil {
		return granted, rtErr
	}
	if err := s.repo.MarkPolled(ctx, postID, s.now()); err != nil {
		log.WithError(err).WithField("post_id", postID).Warn("Не удалось отметить время опроса")
	}
	return granted, nil
}

// PollRecent опрашивает свежие посты. Лимит X API останавливает проход,
// временная ошибка пропускает пост. stop проверяется между постами.
func (s *Service) PollRecent(ctx context.Context, stop <-chan struct{}) (PollReport, error) {
	posts, err := s.repo.ListRecent(ctx, s.now().Add(-s.opts.NearTermWindow))
	if err != nil {
		return PollReport{}, err
	}
	return s.pollPosts(ctx, stop, posts, false)
}

// FinalSweep — последний опрос постов старше FinalCheckAge.
// Пост закрывается после успешного опроса или после FinalMaxAttempts попыток.
func (s *Service) FinalSweep(ctx context.Context, stop <-chan struct{}) (PollReport, error) {
	posts, err := s.repo.ListPendingFinal(ctx, s.now().Add(-s.opts.FinalCheckAge), s.opts.FinalBatch)
	if err != nil {
		return PollReport{}, err
	}
	return s.pollPosts(ctx, stop, posts, true)
}

func (s *Service) pollPosts(ctx context.Context, stop <-chan struct{}, posts []*Post, final bool) (PollReport, error) {
	var report PollReport
	for _, p := range posts {
		if stopped(stop) {
			log.WithField("left", len(posts)-report.Posts-report.Skipped).Info("Опрос прерван остановкой")
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		logger := log.WithField("post_id", p.PostID)
		n, err := s.PollPost(ctx, p.PostID)
		report.Granted += n

		var limited *twitter.RateLimitExceededError
		if errors.As(err, &limited) {
			logger.WithFields(log.Fields{
				"endpoint": limited.Endpoint,
				"reset_in": limited.ResetIn.Round(time.Second).String(),
			}).Warn("Лимит X API исчерпан, проход остановлен")
			return report, err
		}
		if err != nil {
			logger.WithError(err).Warn("Пост пропущен")
			report.Skipped++
		} else {
			report.Posts++
		}

		if final {
			closed, ferr := s.repo.RecordFinalAttempt(ctx, p.PostID, err == nil, s.opts.FinalMaxAttempts)
			if ferr != nil {
				logger.WithError(ferr).Error("Не удалось записать финальную попытку")
				continue
			}
			if closed {
				report.Final++
				logger.WithField("attempts", p.FinalAttempts+1).Info("Пост закрыт финальной проверкой")
			}
		}
	}
	return report, nil
}

// Backfill досчитывает награды по уже сохранённым взаимодействиям:
// например, участник привязал аккаунт после того, как лайкнул пост.
// Работает без обращений к X API.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	posts, err := s.repo.ListUnrewarded(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.backfillPost(ctx, p.PostID)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		log.WithFields(log.Fields{"posts": len(posts), "granted": total}).Info("Досчёт наград завершён")
	}
	return total, errors.Join(errs...)
}

func (s *Service) backfillPost(ctx context.Context, postID string) (int, error) {
	unlock := s.locks.Lock(postID)
	defer unlock()

	// Перечитываем под блокировкой: опрос мог выдать награды после выборки
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return 0, err
	}
	return s.reward(ctx, post, post.LikedBy, post.RetweetedBy)
}

// DiscoverPosts добавляет в базу новые посты аккаунта сообщества.
func (s *Service) DiscoverPosts(ctx context.Context) (int, error) {
	if s.opts.AccountID == "" {
		return 0, nil
	}
	sinceID, err := s.repo.LatestPostID(ctx)
	if err != nil {
		return 0, err
	}
	tweets, err := s.source.UserTweets(ctx, s.opts.AccountID, sinceID, s.opts.DiscoverMax)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, t := range tweets {
		postedAt := t.CreatedAt
		if postedAt.IsZero() {
			postedAt = s.now()
		}
		ok, err := s.repo.EnsurePost(ctx, t.ID, postedAt)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			log.WithField("post_id", t.ID).Info("Новый пост сообщества")
		}
	}
	return created, nil
}

// CheckPost — ручная проверка поста по ID или ссылке.
// Принимаются только посты сообщества: незнакомый пост ищется в ленте аккаунта.
func (s *Service) CheckPost(ctx context.Context, raw string) (*CheckResult, error) {
	postID, err := ParsePostID(raw)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{PostID: postID}

	if _, err := s.repo.GetPost(ctx, postID); err != nil {
		if !errors.Is(err, common.ErrPostNotFound) {
			return nil, err
		}
		if _, err := s.DiscoverPosts(ctx); err != nil {
			return nil, err
		}
		if _, err := s.repo.GetPost(ctx, postID); err != nil {
			return nil, err
		}
		res.NewlyFound = true
	}

	granted, err := s.PollPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	res.Granted = granted
	res.Likes = len(post.LikedBy)
	res.Retweets = len(post.RetweetedBy)
	return res, nil
}

var (
	postIDRe  = regexp.MustCompile(`^\d{1,20}$`)
	postURLRe = regexp.MustCompile(`/status(?:es)?/(\d{1,20})`)
)

// ParsePostID извлекает ID поста из числа или ссылки вида x.com/<user>/status/<id>.
func ParsePostID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if postIDRe.MatchString(raw) {
		return raw, nil
	}
	if m := postURLRe.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	return "", common.NewValidationError("❌ Укажите ID поста или ссылку: /check https://x.com/user/status/123")
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
