package chat_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mathbot/backend/internal/events"
	model "github.com/zhouzirui/mathbot/backend/internal/model/chat"
	"github.com/zhouzirui/mathbot/backend/internal/session"
	chat "github.com/zhouzirui/mathbot/backend/internal/service/chat"
)

type fakeResponder struct {
	mu      sync.Mutex
	calls   int
	history []model.History
	err     error
}

func (f *fakeResponder) Reply(_ context.Context, history model.History, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.history = append(f.history, history)
	if f.err != nil {
		return "", f.err
	}
	return "reply to " + message, nil
}

type recordingPublisher struct {
	exchanges []events.Exchange
	err       error
}

func (p *recordingPublisher) PublishExchange(_ context.Context, ex events.Exchange) error {
	p.exchanges = append(p.exchanges, ex)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newService(t *testing.T, responder chat.Responder, opts ...chat.Option) (*chat.Service, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	return chat.NewService(store, responder, opts...), store
}

func register(t *testing.T, svc *chat.Service, email string) string {
	t.Helper()
	reg, err := svc.RegisterEmail(context.Background(), email)
	require.NoError(t, err)
	return reg.SessionID
}

func TestRegisterEmailMintsToken(t *testing.T) {
	svc, store := newService(t, &fakeResponder{})
	ctx := context.Background()

	reg, err := svc.RegisterEmail(ctx, "  student@example.com ")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^student@example\.com_[0-9a-f]{8}$`), reg.SessionID)
	assert.Equal(t, "Email set successfully: student@example.com. You can now use the chatbot.", reg.Message)

	again, err := svc.RegisterEmail(ctx, "student@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, reg.SessionID, again.SessionID)
	assert.Equal(t, 2, store.Len())

	sess, err := store.FindByToken(ctx, reg.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "student@example.com", sess.State.Email)
}

func TestRegisterEmailRejectsInvalid(t *testing.T) {
	svc, store := newService(t, &fakeResponder{})

	for _, email := range []string{"", "   ", "not-an-email", "a@b", "Ada <ada@example.com>", "a@@example.com", "a@example."} {
		_, err := svc.RegisterEmail(context.Background(), email)
		assert.ErrorIs(t, err, chat.ErrInvalidEmail, "email %q", email)
	}
	assert.Equal(t, 0, store.Len())

	_, err := svc.RegisterEmail(context.Background(), "dev@localhost")
	assert.NoError(t, err)
	_, err = svc.RegisterEmail(context.Background(), "@localhost")
	assert.ErrorIs(t, err, chat.ErrInvalidEmail)
}

func TestRegisterEmailRejectsOverlongAddress(t *testing.T) {
	svc, store := newService(t, &fakeResponder{})

	email := strings.Repeat("a", chat.MaxEmailLength) + "@example.com"
	_, err := svc.RegisterEmail(context.Background(), email)
	assert.ErrorIs(t, err, chat.ErrInvalidEmail)

	_, err = svc.RegisterEmail(context.Background(), strings.Repeat("b", chat.MaxEmailLength)+"@localhost")
	assert.ErrorIs(t, err, chat.ErrInvalidEmail)
	assert.Equal(t, 0, store.Len())
}

func TestChatUnknownTokenNeverCallsModel(t *testing.T) {
	responder := &fakeResponder{}
	svc, _ := newService(t, responder)

	for _, token := range []string{"ghost@example.com_12345678", "garbage", "x_"} {
		_, err := svc.Chat(context.Background(), token, "1+1")
		assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	}
	assert.Zero(t, responder.calls)
}

func TestChatIncompleteSessionNeverCallsModel(t *testing.T) {
	responder := &fakeResponder{}
	svc, store := newService(t, responder)

	_, err := store.Create(context.Background(), model.State{Token: "orphan_0000abcd"})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), "orphan_0000abcd", "1+1")
	assert.ErrorIs(t, err, chat.ErrSessionIncomplete)
	assert.Zero(t, responder.calls)
}

func TestChatValidatesInput(t *testing.T) {
	svc, _ := newService(t, &fakeResponder{})
	token := register(t, svc, "v@example.com")

	_, err := svc.Chat(context.Background(), token, "  ")
	assert.ErrorIs(t, err, chat.ErrMessageRequired)

	_, err = svc.Chat(context.Background(), "", "1+1")
	assert.ErrorIs(t, err, chat.ErrSessionIDRequired)
}

func TestChatAppendsExchangeInOrder(t *testing.T) {
	responder := &fakeResponder{}
	publisher := &recordingPublisher{}
	svc, store := newService(t, responder, chat.WithPublisher(publisher))
	token := register(t, svc, "order@example.com")
	ctx := context.Background()

	reply, err := svc.Chat(ctx, token, "first")
	require.NoError(t, err)
	assert.Equal(t, "reply to first", reply)

	_, err = svc.Chat(ctx, token, "second")
	require.NoError(t, err)

	sess, err := store.FindByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.History{
		model.HumanTurn("first"), model.AITurn("reply to first"),
		model.HumanTurn("second"), model.AITurn("reply to second"),
	}, sess.State.History)

	require.Len(t, responder.history, 2)
	assert.Empty(t, responder.history[0])
	assert.Equal(t, model.History{model.HumanTurn("first"), model.AITurn("reply to first")}, responder.history[1])

	require.Len(t, publisher.exchanges, 2)
	assert.Equal(t, token, publisher.exchanges[1].SessionID)
	assert.Equal(t, "order@example.com", publisher.exchanges[1].Email)
	assert.Equal(t, 4, publisher.exchanges[1].HistoryLength)
}

func TestChatHistoryStaysBounded(t *testing.T) {
	responder := &fakeResponder{}
	svc, store := newService(t, responder)
	token := register(t, svc, "bound@example.com")
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := svc.Chat(ctx, token, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}

	sess, err := store.FindByToken(ctx, token)
	require.NoError(t, err)
	require.Len(t, sess.State.History, model.HistoryLimit)
	assert.Equal(t, model.HumanTurn("q7"), sess.State.History[0])
	assert.Equal(t, model.AITurn("reply to q11"), sess.State.History[9])

	for _, h := range responder.history {
		assert.LessOrEqual(t, len(h), model.HistoryLimit)
	}
}

func TestChatFullHistoryDropsTwoOldest(t *testing.T) {
	svc, store := newService(t, &fakeResponder{})
	token := register(t, svc, "full@example.com")
	ctx := context.Background()

	sess, err := store.FindByToken(ctx, token)
	require.NoError(t, err)
	for i := 1; i <= 10; i += 2 {
		sess.State.History = append(sess.State.History,
			model.HumanTurn(fmt.Sprintf("h%d", i)), model.AITurn(fmt.Sprintf("h%d", i+1)))
	}
	require.NoError(t, store.Save(ctx, sess))

	_, err = svc.Chat(ctx, token, "h11")
	require.NoError(t, err)

	sess, err = store.FindByToken(ctx, token)
	require.NoError(t, err)
	require.Len(t, sess.State.History, 10)
	assert.Equal(t, "h3", sess.State.History[0].Content)
	assert.Equal(t, model.HumanTurn("h11"), sess.State.History[8])
	assert.Equal(t, model.AITurn("reply to h11"), sess.State.History[9])
}

func TestChatProviderFailureLeavesHistory(t *testing.T) {
	responder := &fakeResponder{}
	svc, store := newService(t, responder)
	token := register(t, svc, "fail@example.com")
	ctx := context.Background()

	_, err := svc.Chat(ctx, token, "ok")
	require.NoError(t, err)

	responder.err = errors.New("quota exceeded")
	_, err = svc.Chat(ctx, token, "boom")

	var providerErr *chat.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "Chat service error: quota exceeded", err.Error())

	sess, err := store.FindByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.History{model.HumanTurn("ok"), model.AITurn("reply to ok")}, sess.State.History)
}

func TestChatWithoutModelReportsInitError(t *testing.T) {
	svc, _ := newService(t, nil, chat.WithModelInitError(errors.New("ARK_API_KEY missing")))
	token := register(t, svc, "nomodel@example.com")

	_, err := svc.Chat(context.Background(), token, "1+1")
	require.ErrorIs(t, err, chat.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "ARK_API_KEY missing")
}

func TestChatPublishFailureDoesNotFailRequest(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("nats down")}
	svc, _ := newService(t, &fakeResponder{}, chat.WithPublisher(publisher))
	token := register(t, svc, "pub@example.com")

	reply, err := svc.Chat(context.Background(), token, "2*3")
	require.NoError(t, err)
	assert.Equal(t, "reply to 2*3", reply)
	assert.Len(t, publisher.exchanges, 1)
}

type failingSaveStore struct {
	*session.MemoryStore
}

func (f failingSaveStore) Save(context.Context, model.Session) error {
	return errors.New("disk full")
}

func TestChatSurfacesSaveFailure(t *testing.T) {
	store := failingSaveStore{session.NewMemoryStore(time.Hour)}
	svc := chat.NewService(store, &fakeResponder{})
	token := register(t, svc, "save@example.com")

	_, err := svc.Chat(context.Background(), token, "1+1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, chat.ErrSessionNotFound)
	assert.Contains(t, err.Error(), "disk full")
}
