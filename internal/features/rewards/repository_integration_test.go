//go:build integration

package rewards

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/db/postgres"
)

// go test -tags integration ./internal/features/rewards/ с DATABASE_URL на пустую БД.
func newIntegrationRepo(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL не задан")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = postgres.RunMigrations(ctx, pool)
	require.NoError(t, err)
	return NewRepository(pool), pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, userID int64) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO users (user_id) VALUES ($1)`, userID)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID)
		pool.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	})
}

func seedPost(t *testing.T, repo *Repository, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	postID := fmt.Sprintf("it%d", time.Now().UnixNano())
	created, err := repo.EnsurePost(ctx, postID, time.Now())
	require.NoError(t, err)
	require.True(t, created)
	t.Cleanup(func() { pool.Exec(ctx, `DELETE FROM posts WHERE post_id = $1`, postID) })
	return postID
}

func TestRepository_MergeEngagersUnionKeepsOrder(t *testing.T) {
	repo, pool := newIntegrationRepo(t)
	ctx := context.Background()
	postID := seedPost(t, repo, pool)

	_, err := repo.MergeEngagers(ctx, postID, []string{"a", "b"}, nil)
	require.NoError(t, err)
	p, err := repo.MergeEngagers(ctx, postID, []string{"b", "c", "a", "c"}, []string{"x"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, p.LikedBy)
	assert.Equal(t, []string{"x"}, p.RetweetedBy)
}

func TestRepository_GrantOncePerUserAndKind(t *testing.T) {
	repo, pool := newIntegrationRepo(t)
	ctx := context.Background()
	userID := time.Now().UnixNano()
	seedUser(t, pool, userID)
	postID := seedPost(t, repo, pool)

	// параллельные проходы: отметку и начисление получает ровно один
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.Grant(ctx, postID, userID, KindLike, 1)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, granted)

	ok, err := repo.Grant(ctx, postID, userID, KindRetweet, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	var balance, likes, retweets, journal int64
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT balance, total_likes, total_retweets,
		       (SELECT COUNT(*) FROM transactions WHERE user_id = $1)
		FROM users WHERE user_id = $1
	`, userID).Scan(&balance, &likes, &retweets, &journal))
	assert.Equal(t, int64(3), balance)
	assert.Equal(t, int64(1), likes)
	assert.Equal(t, int64(1), retweets)
	assert.Equal(t, int64(2), journal)

	p, err := repo.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, []int64{userID}, p.RewardedForLike)
	assert.Equal(t, []int64{userID}, p.RewardedForRetweet)
}

func TestRepository_FailedCreditLeavesUserUnmarked(t *testing.T) {
	repo, pool := newIntegrationRepo(t)
	ctx := context.Background()
	postID := seedPost(t, repo, pool)

	// участника нет в users: начисление падает, отметка откатывается
	missing := time.Now().UnixNano()
	ok, err := repo.Grant(ctx, postID, missing, KindLike, 1)
	require.Error(t, err)
	assert.False(t, ok)

	p, err := repo.GetPost(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, p.RewardedForLike)
}
