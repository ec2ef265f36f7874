package stats

import (
	"sort"
	"sync"
)

// Accumulator копит приращения счётчиков до следующего сброса.
// Безопасен для вызова из любого числа горутин.
//
// Сброс идёт в два шага: Snapshot копирует накопленное, Commit после
// успешной записи вычитает ровно скопированные значения. Приращения,
// пришедшие между шагами, остаются до следующего сброса.
type Accumulator struct {
	mu      sync.Mutex
	pending map[int64]*Counters
}

func NewAccumulator() *Accumulator {
	return &Accumulator{pending: make(map[int64]*Counters)}
}

// Add увеличивает счётчик field участника на amount.
// Неизвестные счётчики и неположительные значения игнорируются.
func (a *Accumulator) Add(userID int64, field Field, amount int64) {
	if amount <= 0 || !field.Valid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.pending[userID]
	if !ok {
		c = &Counters{}
		a.pending[userID] = c
	}
	c.add(field, amount)
}

// Snapshot возвращает копию ненулевых записей, упорядоченную по user_id.
// Накопитель при этом не меняется.
func (a *Accumulator) Snapshot() []Delta {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Delta, 0, len(a.pending))
	for userID, c := range a.pending {
		if c.IsZero() {
			continue
		}
		out = append(out, Delta{UserID: userID, Counters: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Commit вычитает записанные значения. Опустевшие записи удаляются.
func (a *Accumulator) Commit(batch []Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range batch {
		c, ok := a.pending[d.UserID]
		if !ok {
			continue
		}
		c.Messages -= d.Messages
		c.Reactions -= d.Reactions
		c.VoiceMinutes -= d.VoiceMinutes
		if c.IsZero() {
			delete(a.pending, d.UserID)
		}
	}
}

// Pending — сколько участников ждут сброса.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
