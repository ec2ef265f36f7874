package stats

import (
	"sort"
	"sync"
	"time"
)

// Presence — участники, сейчас находящиеся в голосовом чате.
type Presence struct {
	mu    sync.Mutex
	users map[int64]time.Time // user_id → когда зашёл
	now   func() time.Time
}

func NewPresence() *Presence {
	return &Presence{users: make(map[int64]time.Time), now: time.Now}
}

// Join отмечает участника в голосовом чате. Повторный Join не сбрасывает время входа.
func (p *Presence) Join(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[userID]; !ok {
		p.users[userID] = p.now()
	}
}

// Leave убирает участника из голосового чата.
func (p *Presence) Leave(userID int64) {
	p.mu.Lock()
	delete(p.users, userID)
	p.mu.Unlock()
}

// Clear — голосовой чат завершён.
func (p *Presence) Clear() {
	p.mu.Lock()
	p.users = make(map[int64]time.Time)
	p.mu.Unlock()
}

// Connected возвращает user_id участников в голосовом чате.
func (p *Presence) Connected() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int64, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
