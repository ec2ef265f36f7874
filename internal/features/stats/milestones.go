// Package stats — milestones.go содержит таблицу вех и правила их срабатывания.
// Бонус за веху выдаётся один раз на (участник, счётчик, порог).
package stats

import (
	"fmt"

	"github.com/redaxedvg/ebisu/internal/common"
)

// Milestone — порог счётчика и бонус за его достижение.
type Milestone struct {
	Field     Field `json:"field"`
	Threshold int64 `json:"threshold"`
	Bonus     int64 `json:"bonus"`
}

// DefaultMilestones — таблица вех.
//
//	Сообщения: 100 → 10, 500 → 25, 1000 → 50, 5000 → 150, 10000 → 300
//	Реакции:   100 → 10, 500 → 25, 1000 → 50
//	Голос:     60 мин → 10, 600 → 50, 3000 → 150
var DefaultMilestones = []Milestone{
	{FieldMessages, 100, 10},
	{FieldMessages, 500, 25},
	{FieldMessages, 1000, 50},
	{FieldMessages, 5000, 150},
	{FieldMessages, 10000, 300},
	{FieldReactions, 100, 10},
	{FieldReactions, 500, 25},
	{FieldReactions, 1000, 50},
	{FieldVoiceMinutes, 60, 10},
	{FieldVoiceMinutes, 600, 50},
	{FieldVoiceMinutes, 3000, 150},
}

// Description — текст для журнала транзакций.
func (m Milestone) Description() string {
	return fmt.Sprintf("Веха: %s %s", common.FormatNumber(m.Threshold), m.unit())
}

// Announcement — текст поздравления в чате.
func (m Milestone) Announcement(name string) string {
	return fmt.Sprintf("🎉 %s: %s %s! Бонус %s",
		name, common.FormatNumber(m.Threshold), m.unit(), common.FormatCoinsAmount(m.Bonus))
}

func (m Milestone) unit() string {
	switch m.Field {
	case FieldMessages:
		return common.Pluralize(m.Threshold, "сообщение", "сообщения", "сообщений")
	case FieldReactions:
		return common.Pluralize(m.Threshold, "реакция", "реакции", "реакций")
	default:
		return common.Pluralize(m.Threshold, "минута в голосовом чате", "минуты в голосовом чате", "минут в голосовом чате")
	}
}

// MatchMode — правило срабатывания вехи.
type MatchMode string

const (
	// MatchExact — веха срабатывает, только если новое значение равно порогу.
	// Пакетный прирост, перепрыгнувший порог, веху пропускает.
	MatchExact MatchMode = "exact"
	// MatchCrossed — веха срабатывает при пересечении: old < порог ≤ new.
	MatchCrossed MatchMode = "crossed"
)

// Matcher находит сработавшие вехи.
type Matcher struct {
	mode  MatchMode
	table []Milestone
}

// NewMatcher создаёт матчер. Пустая таблица — DefaultMilestones.
func NewMatcher(mode MatchMode, table []Milestone) (*Matcher, error) {
	if mode != MatchExact && mode != MatchCrossed {
		return nil, fmt.Errorf("неизвестный режим вех %q", mode)
	}
	if len(table) == 0 {
		table = DefaultMilestones
	}
	return &Matcher{mode: mode, table: table}, nil
}

// Mode возвращает режим матчера.
func (m *Matcher) Mode() MatchMode { return m.mode }

// Hits возвращает вехи счётчика field, сработавшие при переходе from → to.
func (m *Matcher) Hits(field Field, from, to int64) []Milestone {
	if to <= from {
		return nil
	}
	var out []Milestone
	for _, ms := range m.table {
		if ms.Field != field {
			continue
		}
		switch m.mode {
		case MatchExact:
			if to == ms.Threshold {
				out = append(out, ms)
			}
		case MatchCrossed:
			if from < ms.Threshold && ms.Threshold <= to {
				out = append(out, ms)
			}
		}
	}
	return out
}
