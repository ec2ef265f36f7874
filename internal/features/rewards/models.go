// Package rewards начисляет монеты за лайки и ретвиты постов сообщества в X.
// Награда выдаётся ровно один раз на тройку (пост, участник, тип взаимодействия)
// независимо от того, сколько проходов опроса увидели это взаимодействие.
package rewards

import (
	"time"

	"github.com/redaxedvg/ebisu/internal/features/economy"
)

// Kind — тип взаимодействия с постом.
type Kind string

const (
	KindLike    Kind = "like"
	KindRetweet Kind = "retweet"
)

// TxType возвращает тип записи журнала для награды.
func (k Kind) TxType() string {
	if k == KindRetweet {
		return economy.TxTypeRetweetReward
	}
	return economy.TxTypeLikeReward
}

// Post — пост сообщества в X, за взаимодействия с которым платим.
type Post struct {
	PostID             string     `db:"post_id"`
	PostedAt           time.Time  `db:"posted_at"`
	LikedBy            []string   `db:"liked_by"`             // ID аккаунтов X, только растёт
	RetweetedBy        []string   `db:"retweeted_by"`         // ID аккаунтов X, только растёт
	RewardedForLike    []int64    `db:"rewarded_for_like"`    // user_id, уже получившие награду за лайк
	RewardedForRetweet []int64    `db:"rewarded_for_retweet"` // user_id, уже получившие награду за ретвит
	FinalChecked       bool       `db:"final_checked"`
	FinalAttempts      int        `db:"final_attempts"`
	LastPolledAt       *time.Time `db:"last_polled_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

// Rewarded сообщает, получил ли участник награду данного типа.
func (p *Post) Rewarded(userID int64, kind Kind) bool {
	set := p.RewardedForLike
	if kind == KindRetweet {
		set = p.RewardedForRetweet
	}
	for _, id := range set {
		if id == userID {
			return true
		}
	}
	return false
}

// PollReport — итог одного прохода опроса.
type PollReport struct {
	Posts   int `json:"posts"`   // сколько постов опрошено
	Skipped int `json:"skipped"` // пропущено из-за временных ошибок API
	Granted int `json:"granted"` // новых наград
	Final   int `json:"final"`   // постов, закрытых финальной проверкой
}

// CheckResult — ответ на ручную проверку поста.
type CheckResult struct {
	PostID     string
	Likes      int
	Retweets   int
	Granted    int
	NewlyFound bool // пост впервые попал в базу при этой проверке
}
