// Package stats копит частые счётчики активности (сообщения, реакции,
// минуты в голосовом чате) в памяти и периодически сбрасывает их в БД
// одним пакетом, после чего проверяет вехи.
// models.go описывает счётчики и пакеты сброса.
package stats

// Field — счётчик активности участника (имя колонки в users).
type Field string

const (
	FieldMessages     Field = "messages_count"
	FieldReactions    Field = "reactions_count"
	FieldVoiceMinutes Field = "voice_minutes"
)

// Fields — все счётчики в порядке вывода.
var Fields = []Field{FieldMessages, FieldReactions, FieldVoiceMinutes}

// Valid сообщает, известен ли счётчик.
func (f Field) Valid() bool {
	switch f {
	case FieldMessages, FieldReactions, FieldVoiceMinutes:
		return true
	}
	return false
}

// Counters — значения трёх счётчиков.
type Counters struct {
	Messages     int64 `json:"messages"`
	Reactions    int64 `json:"reactions"`
	VoiceMinutes int64 `json:"voice_minutes"`
}

// Get возвращает значение счётчика.
func (c Counters) Get(f Field) int64 {
	switch f {
	case FieldMessages:
		return c.Messages
	case FieldReactions:
		return c.Reactions
	case FieldVoiceMinutes:
		return c.VoiceMinutes
	}
	return 0
}

func (c *Counters) add(f Field, n int64) {
	switch f {
	case FieldMessages:
		c.Messages += n
	case FieldReactions:
		c.Reactions += n
	case FieldVoiceMinutes:
		c.VoiceMinutes += n
	}
}

// IsZero — все счётчики нулевые.
func (c Counters) IsZero() bool {
	return c.Messages == 0 && c.Reactions == 0 && c.VoiceMinutes == 0
}

// Delta — накопленные приращения одного участника.
type Delta struct {
	UserID int64
	Counters
}

// Totals — значения счётчиков участника после сброса.
type Totals struct {
	UserID int64
	Counters
}

// FlushReport — итог одного сброса.
type FlushReport struct {
	Users      int `json:"users"`
	Milestones int `json:"milestones"`
}
