package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/common"
	"github.com/redaxedvg/ebisu/internal/twitter"
)

func reply(text string) HandlerFunc {
	return func(context.Context, *Request) (string, error) { return text, nil }
}

func fail(err error) HandlerFunc {
	return func(context.Context, *Request) (string, error) { return "", err }
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Command{Name: "Balance", Description: "баланс", Handle: reply("ok")}))

	_, ok := r.Lookup("balance")
	assert.True(t, ok)

	assert.Error(t, r.Register(Command{Name: "balance", Handle: reply("dup")}))
	assert.Error(t, r.Register(Command{Name: "", Handle: reply("x")}))
	assert.Error(t, r.Register(Command{Name: "nohandler"}))
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(
		Command{Name: "balance", Description: "баланс", Handle: reply("💰 10")},
		Command{Name: "ratelimits", Description: "квоты X API", AdminOnly: true, Handle: reply("квоты")},
	))
	ctx := context.Background()

	out, handled := r.Dispatch(ctx, "balance", &Request{UserID: 1})
	assert.True(t, handled)
	assert.Equal(t, "💰 10", out)

	_, handled = r.Dispatch(ctx, "unknown", &Request{UserID: 1})
	assert.False(t, handled)

	out, handled = r.Dispatch(ctx, "ratelimits", &Request{UserID: 1})
	assert.True(t, handled)
	assert.Contains(t, out, "только администраторам")

	out, _ = r.Dispatch(ctx, "ratelimits", &Request{UserID: 1, Admin: true})
	assert.Equal(t, "квоты", out)

	help, _ := r.Dispatch(ctx, "help", &Request{})
	assert.Contains(t, help, "/balance — баланс")
	assert.NotContains(t, help, "/ratelimits")
	assert.Contains(t, r.Help(true), "/ratelimits")
}

func TestErrorReply(t *testing.T) {
	logger := log.NewEntry(log.StandardLogger())

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", common.NewValidationError("❌ Формат: /link @username"), "❌ Формат: /link @username"},
		{"rate limit", &twitter.RateLimitExceededError{Endpoint: "tweets/:id/liking_users", Limit: 75, ResetIn: 7 * time.Minute}, "попробуйте через 7m0s"},
		{"transient", &twitter.TransientAPIError{Endpoint: "users/me", Timeout: true}, "временно недоступен"},
		{"already linked", fmt.Errorf("link: %w", common.ErrAlreadyLinked), "❌ link: аккаунт X уже привязан"},
		{"post not found", common.ErrPostNotFound, "❌ пост не найден"},
		{"unexpected", errors.New("pq: connection reset"), "Произошла ошибка"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, ErrorReply(tt.err, logger), tt.want)
		})
	}
}

func TestRegistry_DispatchMapsErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Command{Name: "link", Handle: fail(common.ErrAccountTaken)}))

	out, handled := r.Dispatch(context.Background(), "link", &Request{UserID: 1})
	assert.True(t, handled)
	assert.Equal(t, "❌ "+common.ErrAccountTaken.Error(), out)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text  string
		cmd   string
		args  []string
		isCmd bool
	}{
		{"/balance", "balance", nil, true},
		{"  /LINK @alice  ", "link", []string{"@alice"}, true},
		{"/check@ebisu_bot 123", "check", []string{"123"}, true},
		{"!balance", "balance", nil, true},
		{".help", "help", nil, true},
		{"привет", "", nil, false},
		{"/", "", nil, false},
		{"/@bot", "", nil, false},
	}
	for _, tt := range tests {
		cmd, args, ok := ParseCommand(tt.text)
		assert.Equal(t, tt.isCmd, ok, tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		assert.Equal(t, tt.args, args, tt.text)
	}
}
