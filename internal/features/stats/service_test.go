package stats

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantKey struct {
	userID    int64
	field     Field
	threshold int64
}

// memStore — Store в памяти.
type memStore struct {
	mu      sync.Mutex
	users   map[int64]*Counters
	grants  map[grantKey]bool
	bonuses map[int64]int64
	fail    error
	calls   int
	// столько ближайших GrantMilestone вернут ошибку
	grantFails int
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[int64]*Counters{},
		grants:  map[grantKey]bool{},
		bonuses: map[int64]int64{},
	}
}

func (m *memStore) ApplyDeltas(_ context.Context, deltas []Delta) ([]Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail != nil {
		return nil, m.fail
	}
	out := make([]Totals, 0, len(deltas))
	for _, d := range deltas {
		c, ok := m.users[d.UserID]
		if !ok {
			c = &Counters{}
			m.users[d.UserID] = c
		}
		c.Messages += d.Messages
		c.Reactions += d.Reactions
		c.VoiceMinutes += d.VoiceMinutes
		out = append(out, Totals{UserID: d.UserID, Counters: *c})
	}
	return out, nil
}

func (m *memStore) GrantMilestone(_ context.Context, userID int64, ms Milestone) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantFails > 0 {
		m.grantFails--
		return false, errors.New("deadlock detected")
	}
	k := grantKey{userID, ms.Field, ms.Threshold}
	if m.grants[k] {
		return false, nil
	}
	m.grants[k] = true
	m.bonuses[userID] += ms.Bonus
	return true, nil
}

func (m *memStore) set(userID int64, c Counters) {
	m.mu.Lock()
	m.users[userID] = &c
	m.mu.Unlock()
}

func newTestService(t *testing.T, mode MatchMode) (*Service, *memStore) {
	t.Helper()
	matcher, err := NewMatcher(mode, nil)
	require.NoError(t, err)
	store := newMemStore()
	return NewService(NewAccumulator(), NewPresence(), store, matcher), store
}

func TestFlush_ThreeMessages(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	store.set(2, Counters{Messages: 10})

	for i := 0; i < 3; i++ {
		svc.Add(2, FieldMessages, 1)
	}

	report, err := svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Users)
	assert.Zero(t, report.Milestones)
	assert.Equal(t, int64(13), store.users[2].Messages)
	assert.Equal(t, 1, store.calls)

	// повторный сброс пуст и в БД не ходит
	report, err = svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Users)
	assert.Equal(t, 1, store.calls)
}

func TestFlush_CreatesMissingUser(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	svc.Add(42, FieldReactions, 2)

	_, err := svc.Flush(context.Background())
	require.NoError(t, err)
	require.Contains(t, store.users, int64(42))
	assert.Equal(t, int64(2), store.users[42].Reactions)
}

func TestFlush_FailurePreservesPending(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	store.fail = errors.New("connection refused")

	svc.Add(1, FieldMessages, 4)
	_, err := svc.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, svc.Pending())

	store.fail = nil
	svc.Add(1, FieldMessages, 1)
	_, err = svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), store.users[1].Messages)
	assert.Zero(t, svc.Pending())
}

func TestFlush_MilestoneExactLanding(t *testing.T) {
	for _, mode := range []MatchMode{MatchExact, MatchCrossed} {
		t.Run(string(mode), func(t *testing.T) {
			svc, store := newTestService(t, mode)
			store.set(1, Counters{Messages: 99})

			var notified []Milestone
			svc.OnMilestone(func(userID int64, m Milestone) {
				assert.Equal(t, int64(1), userID)
				notified = append(notified, m)
			})

			svc.Add(1, FieldMessages, 1)
			report, err := svc.Flush(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, report.Milestones)
			assert.Equal(t, int64(10), store.bonuses[1])
			require.Len(t, notified, 1)
			assert.Equal(t, int64(100), notified[0].Threshold)

			// бонус выдаётся один раз
			store.set(1, Counters{Messages: 99})
			svc.Add(1, FieldMessages, 1)
			report, err = svc.Flush(context.Background())
			require.NoError(t, err)
			assert.Zero(t, report.Milestones)
			assert.Equal(t, int64(10), store.bonuses[1])
		})
	}
}

func TestFlush_MilestoneJumpedOver(t *testing.T) {
	table := []Milestone{{FieldMessages, 50, 7}}

	exact, err := NewMatcher(MatchExact, table)
	require.NoError(t, err)
	crossed, err := NewMatcher(MatchCrossed, table)
	require.NoError(t, err)

	// 48 → 51 перепрыгивает порог 50
	assert.Empty(t, exact.Hits(FieldMessages, 48, 51))
	assert.Equal(t, table, crossed.Hits(FieldMessages, 48, 51))

	store := newMemStore()
	store.set(1, Counters{Messages: 48})
	svc := NewService(NewAccumulator(), NewPresence(), store, exact)
	svc.Add(1, FieldMessages, 3)
	report, err := svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Milestones)
	assert.Zero(t, store.bonuses[1])
}

func TestFlush_FailedMilestoneGrantRetried(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	store.set(7, Counters{Messages: 99})
	store.grantFails = 1
	ctx := context.Background()

	svc.Add(7, FieldMessages, 1)
	report, err := svc.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Milestones)
	assert.Equal(t, int64(100), store.users[7].Messages)
	assert.Zero(t, store.bonuses[7])
	assert.Equal(t, 1, svc.PendingGrants())

	// следующий сброс выдаёт веху, даже если новых сообщений нет
	report, err = svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Milestones)
	assert.Equal(t, int64(10), store.bonuses[7])
	assert.Zero(t, svc.PendingGrants())

	for i := 0; i < 5; i++ {
		svc.Add(7, FieldMessages, 1)
		_, err = svc.Flush(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(105), store.users[7].Messages)
	assert.Equal(t, int64(10), store.bonuses[7])
}

func TestFlush_RetryKeepsFailingGrants(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	store.set(7, Counters{Messages: 99})
	store.grantFails = 2
	ctx := context.Background()

	svc.Add(7, FieldMessages, 1)
	_, err := svc.Flush(ctx)
	require.NoError(t, err)

	_, err = svc.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.PendingGrants())

	_, err = svc.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, svc.PendingGrants())
	assert.Equal(t, int64(10), store.bonuses[7])
}

func TestMatcher(t *testing.T) {
	_, err := NewMatcher("sometimes", nil)
	require.Error(t, err)

	m, err := NewMatcher(MatchCrossed, nil)
	require.NoError(t, err)
	assert.Equal(t, MatchCrossed, m.Mode())

	hits := m.Hits(FieldMessages, 90, 600)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(100), hits[0].Threshold)
	assert.Equal(t, int64(500), hits[1].Threshold)

	assert.Empty(t, m.Hits(FieldMessages, 100, 100))
	assert.Empty(t, m.Hits(FieldReactions, 0, 99))
	assert.Len(t, m.Hits(FieldVoiceMinutes, 59, 60), 1)
}

func TestMilestone_Texts(t *testing.T) {
	m := Milestone{FieldMessages, 1000, 50}
	assert.Contains(t, m.Description(), "сообщений")
	assert.Contains(t, m.Announcement("Ann"), "Ann")

	v := Milestone{FieldVoiceMinutes, 60, 10}
	assert.Contains(t, v.Description(), "минут")
}

func TestVoiceTick(t *testing.T) {
	svc, store := newTestService(t, MatchCrossed)
	p := svc.Presence()

	assert.Zero(t, svc.VoiceTick())

	p.Join(1)
	p.Join(2)
	p.Join(1)
	assert.Equal(t, 2, svc.VoiceTick())
	assert.Equal(t, 2, svc.VoiceTick())

	p.Leave(2)
	assert.Equal(t, 1, svc.VoiceTick())

	_, err := svc.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), store.users[1].VoiceMinutes)
	assert.Equal(t, int64(2), store.users[2].VoiceMinutes)

	p.Clear()
	assert.Empty(t, p.Connected())
	assert.Zero(t, svc.VoiceTick())
}
