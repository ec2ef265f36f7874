// Package users управляет участниками сообщества: регистрацией,
// привязкой аккаунта X и счётчиками активности.
// models.go описывает структуры данных таблицы users.
package users

import "time"

// User — участник сообщества (LocalUser).
// Строка создаётся лениво при первом взаимодействии и никогда не удаляется.
type User struct {
	UserID          int64     `db:"user_id"`           // Telegram user ID
	Username        string    `db:"username"`          // @username (может быть пустым)
	FirstName       string    `db:"first_name"`        // Имя
	LinkedAccountID *string   `db:"linked_account_id"` // ID аккаунта X, задаётся один раз
	Balance         int64     `db:"balance"`           // Монеты, не меньше нуля
	MessagesCount   int64     `db:"messages_count"`
	ReactionsCount  int64     `db:"reactions_count"`
	VoiceMinutes    int64     `db:"voice_minutes"`
	TotalLikes      int64     `db:"total_likes"`    // Оплаченные лайки
	TotalRetweets   int64     `db:"total_retweets"` // Оплаченные ретвиты
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// IsLinked сообщает, привязан ли аккаунт X.
func (u *User) IsLinked() bool {
	return u.LinkedAccountID != nil && *u.LinkedAccountID != ""
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username — возвращает его, иначе — имя.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
