package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redaxedvg/ebisu/internal/bot/filters"
	"github.com/redaxedvg/ebisu/internal/config"
)

const communityID = -100777

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: p.ChatID.ID, text: p.Text})
	return &telego.Message{}, nil
}

type fakeActivity struct {
	messages  map[int64]int
	reactions map[int64]int64
	voice     map[int64]bool
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{messages: map[int64]int{}, reactions: map[int64]int64{}, voice: map[int64]bool{}}
}

func (f *fakeActivity) CountMessage(userID int64)            { f.messages[userID]++ }
func (f *fakeActivity) CountReactions(userID int64, n int64) { f.reactions[userID] += n }
func (f *fakeActivity) VoiceJoin(userID int64)               { f.voice[userID] = true }
func (f *fakeActivity) VoiceLeave(userID int64)              { delete(f.voice, userID) }
func (f *fakeActivity) VoiceReset()                          { f.voice = map[int64]bool{} }

type fakeMembers struct {
	ensured map[int64]string
}

func (f *fakeMembers) Ensure(_ context.Context, userID int64, username, _ string) error {
	f.ensured[userID] = username
	return nil
}

func (f *fakeMembers) Known(_ context.Context, userID int64) (bool, error) {
	_, ok := f.ensured[userID]
	return ok, nil
}

type harness struct {
	bot      *Bot
	sender   *fakeSender
	activity *fakeActivity
	members  *fakeMembers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		CommunityChatID:   communityID,
		AdminIDs:          []int64{99},
		BotMaxInflight:    4,
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register(Command{Name: "balance", Description: "баланс", Handle: reply("💰 10")}))

	h := &harness{
		sender:   &fakeSender{},
		activity: newFakeActivity(),
		members:  &fakeMembers{ensured: map[int64]string{}},
	}
	membership := func(context.Context, int64, int64) (string, error) { return "left", nil }
	h.bot = New(nil, h.sender, cfg, reg, h.activity, h.members,
		filters.NewChatFilter(communityID, h.members, membership))
	t.Cleanup(h.bot.Close)
	return h
}

func textUpdate(chatID int64, chatType string, userID int64, text string) telego.Update {
	return telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: chatID, Type: chatType},
		From: &telego.User{ID: userID, Username: "u", FirstName: "F"},
		Text: text,
	}}
}

func TestHandleUpdate_CountsCommunityMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "привет"))
	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "как дела"))
	h.bot.HandleUpdate(ctx, textUpdate(-5, "supergroup", 1, "в другом чате"))

	fromBot := telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: communityID},
		From: &telego.User{ID: 2, IsBot: true},
		Text: "я бот",
	}}
	h.bot.HandleUpdate(ctx, fromBot)

	assert.Equal(t, 2, h.activity.messages[1])
	assert.Zero(t, h.activity.messages[2])
	assert.Empty(t, h.sender.sent)
}

func TestHandleUpdate_Reactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	emoji := func(n int) []telego.ReactionType {
		out := make([]telego.ReactionType, n)
		for i := range out {
			out[i] = &telego.ReactionTypeEmoji{Type: "emoji", Emoji: "👍"}
		}
		return out
	}

	h.bot.HandleUpdate(ctx, telego.Update{MessageReaction: &telego.MessageReactionUpdated{
		Chat: telego.Chat{ID: communityID}, User: &telego.User{ID: 1}, NewReaction: emoji(2),
	}})
	// снятие реакции не считается
	h.bot.HandleUpdate(ctx, telego.Update{MessageReaction: &telego.MessageReactionUpdated{
		Chat: telego.Chat{ID: communityID}, User: &telego.User{ID: 1}, OldReaction: emoji(2), NewReaction: emoji(1),
	}})
	// анонимная реакция от имени чата
	h.bot.HandleUpdate(ctx, telego.Update{MessageReaction: &telego.MessageReactionUpdated{
		Chat: telego.Chat{ID: communityID}, NewReaction: emoji(1),
	}})

	assert.Equal(t, int64(2), h.activity.reactions[1])
}

func TestHandleUpdate_VoicePresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, telego.Update{Message: &telego.Message{
		Chat:             telego.Chat{ID: communityID},
		From:             &telego.User{ID: 1},
		VideoChatStarted: &telego.VideoChatStarted{},
	}})
	h.bot.HandleUpdate(ctx, telego.Update{Message: &telego.Message{
		Chat: telego.Chat{ID: communityID},
		From: &telego.User{ID: 1},
		VideoChatParticipantsInvited: &telego.VideoChatParticipantsInvited{
			Users: []telego.User{{ID: 2}, {ID: 3, IsBot: true}},
		},
	}})
	assert.Equal(t, map[int64]bool{1: true, 2: true}, h.activity.voice)
	// служебные сообщения не считаются сообщениями
	assert.Zero(t, h.activity.messages[1])

	h.bot.HandleUpdate(ctx, telego.Update{Message: &telego.Message{
		Chat:           telego.Chat{ID: communityID},
		VideoChatEnded: &telego.VideoChatEnded{Duration: 600},
	}})
	assert.Empty(t, h.activity.voice)
}

func TestHandleUpdate_NewMembersEnsured(t *testing.T) {
	h := newHarness(t)
	h.bot.HandleUpdate(context.Background(), telego.Update{Message: &telego.Message{
		Chat:           telego.Chat{ID: communityID},
		From:           &telego.User{ID: 1},
		NewChatMembers: []telego.User{{ID: 5, Username: "newbie"}, {ID: 6, IsBot: true}},
	}})
	assert.Equal(t, map[int64]string{5: "newbie"}, h.members.ensured)
}

func TestHandleUpdate_Commands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "/balance"))
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, sentMessage{chatID: communityID, text: "💰 10"}, h.sender.sent[0])
	assert.Contains(t, h.members.ensured, int64(1))

	// неизвестная команда — без ответа
	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "/nope"))
	assert.Len(t, h.sender.sent, 1)

	// лимит: 2 команды в минуту, одна уже потрачена на /nope
	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "/balance"))
	require.Len(t, h.sender.sent, 2)
	assert.Contains(t, h.sender.sent[1].text, "Слишком много команд")

	// повторные отказы без новых предупреждений
	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "/balance"))
	h.bot.HandleUpdate(ctx, textUpdate(communityID, "supergroup", 1, "/balance"))
	assert.Len(t, h.sender.sent, 2)
}

func TestHandleUpdate_PrivateAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// незнакомец в личке получает отказ
	h.bot.HandleUpdate(ctx, textUpdate(7, "private", 7, "/balance"))
	require.Len(t, h.sender.sent, 1)
	assert.Contains(t, h.sender.sent[0].text, "только для участников")

	// зарегистрированный участник
	h.members.ensured[8] = "known"
	h.bot.HandleUpdate(ctx, textUpdate(8, "private", 8, "/balance"))
	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, "💰 10", h.sender.sent[1].text)
}
