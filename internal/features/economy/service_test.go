package economy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/features/users"
)

type fakeJournal []*Transaction

func (f fakeJournal) GetTransactions(_ context.Context, userID int64, limit int) ([]*Transaction, error) {
	var out []*Transaction
	for _, t := range f {
		if t.UserID == userID && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeUsers map[int64]*users.User

func (f fakeUsers) GetByUserID(_ context.Context, userID int64) (*users.User, error) {
	u, ok := f[userID]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return u, nil
}

func TestService_Summary(t *testing.T) {
	linked := "A1"
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	svc := NewService(
		fakeJournal{
			{UserID: 7, Amount: 2, TxType: TxTypeRetweetReward, Description: "Ретвит поста 101", CreatedAt: at},
			{UserID: 7, Amount: 1, TxType: TxTypeLikeReward, Description: "Лайк поста 101", CreatedAt: at},
			{UserID: 8, Amount: 50, TxType: TxTypeMilestoneBonus, Description: "чужое", CreatedAt: at},
		},
		fakeUsers{7: {UserID: 7, LinkedAccountID: &linked, Balance: 1003, TotalLikes: 1, TotalRetweets: 1, MessagesCount: 2350}},
		time.UTC,
	)

	text, err := svc.Summary(context.Background(), 7)
	require.NoError(t, err)
	assert.Contains(t, text, "Баланс: 1 003 монеты")
	assert.Contains(t, text, "Аккаунт X привязан")
	assert.Contains(t, text, "Сообщения: 2 350")
	assert.Contains(t, text, "01.03.2026 09:30 | +2 монеты | Ретвит поста 101")
	assert.Contains(t, text, "+1 монета | Лайк поста 101")
	assert.NotContains(t, text, "чужое")
}

func TestService_SummaryUnlinkedNoHistory(t *testing.T) {
	svc := NewService(fakeJournal{}, fakeUsers{9: {UserID: 9}}, nil)

	text, err := svc.Summary(context.Background(), 9)
	require.NoError(t, err)
	assert.Contains(t, text, "/link @username")
	assert.NotContains(t, text, "Последние начисления")

	_, err = svc.Summary(context.Background(), 10)
	assert.ErrorIs(t, err, common.ErrUserNotFound)
}
