package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zhouzirui/mathbot/backend/internal/events"
	"github.com/zhouzirui/mathbot/backend/internal/metrics"
	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
	"github.com/zhouzirui/mathbot/backend/internal/session"
)

var (
	ErrInvalidEmail      = errors.New("enter a valid email address")
	ErrMessageRequired   = errors.New("message is required")
	ErrSessionIDRequired = errors.New("session ID is required")
	ErrSessionNotFound   = errors.New("invalid session ID. Please set your email first via /api/set_email/")
	ErrSessionIncomplete = errors.New("invalid session. Please set your email first via /api/set_email/")
	ErrModelUnavailable  = errors.New("LLM initialization failed")
)

// ProviderError wraps a failed model call.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "Chat service error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Responder produces the assistant reply for message given the replayed history.
type Responder interface {
	Reply(ctx context.Context, history chat.History, message string) (string, error)
}

// Registration is the result of RegisterEmail.
type Registration struct {
	Email     string `json:"-"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes every completed exchange to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithModelInitError records why no responder is available, reported to
// chat callers as ErrModelUnavailable.
func WithModelInitError(err error) Option {
	return func(s *Service) {
		s.modelErr = err
	}
}

// Service registers sessions and relays chat messages to the model.
type Service struct {
	sessions  session.Store
	responder Responder
	modelErr  error
	events    events.Publisher
	now       func() time.Time
}

// NewService wires the session store and responder. A nil responder keeps
// registration working while chat calls fail with ErrModelUnavailable.
func NewService(sessions session.Store, responder Responder, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		responder: responder,
		events:    events.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterEmail creates a session for email and mints its token.
func (s *Service) RegisterEmail(ctx context.Context, email string) (Registration, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Registration{}, err
	}

	token := chat.NewToken(email)
	if _, err := s.sessions.Create(ctx, chat.State{Email: email, Token: token}); err != nil {
		return Registration{}, fmt.Errorf("chat: create session: %w", err)
	}

	metrics.SessionsRegistered.Inc()
	log.Printf("[chat] registered session for %s", email)

	return Registration{
		Email:     email,
		SessionID: token,
		Message:   fmt.Sprintf("Email set successfully: %s. You can now use the chatbot.", email),
	}, nil
}

// Chat relays message for the session identified by token and returns the
// assistant's reply. History is only written after a successful model call.
func (s *Service) Chat(ctx context.Context, token, message string) (reply string, err error) {
	defer func() {
		metrics.ChatRequests.WithLabelValues(outcome(err)).Inc()
	}()

	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrMessageRequired
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrSessionIDRequired
	}

	sess, err := s.sessions.FindByToken(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chat: resolve session: %w", err)
	}
	if sess.State.Email == "" {
		return "", ErrSessionIncomplete
	}

	if s.responder == nil {
		cause := s.modelErr
		if cause == nil {
			cause = errors.New("no model configured")
		}
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, cause)
	}

	start := s.now()
	reply, err = s.responder.Reply(ctx, sess.State.History.Recent(chat.HistoryLimit), message)
	metrics.LLMLatency.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		log.Printf("[chat] model call failed for %s: %v", token, err)
		return "", &ProviderError{Err: err}
	}

	sess.State.History = sess.State.History.Append(message, reply)
	if err := s.sessions.Save(ctx, sess); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("chat: save session: %w", err)
	}
	metrics.HistoryLength.Observe(float64(len(sess.State.History)))

	s.publish(ctx, sess, message, reply)
	return reply, nil
}

func (s *Service) publish(ctx context.Context, sess chat.Session, message, reply string) {
	ex := events.Exchange{
		SessionID:     sess.State.Token,
		Email:         sess.State.Email,
		Message:       message,
		Response:      reply,
		HistoryLength: len(sess.State.History),
		Timestamp:     s.now().UTC(),
	}
	if err := s.events.PublishExchange(ctx, ex); err != nil {
		log.Printf("[chat] failed to publish exchange for %s: %v", sess.State.Token, err)
	}
}

// MaxEmailLength caps addresses at the RFC 5321 path limit.
const MaxEmailLength = 254

var validate = validator.New()

// normalizeEmail trims email and accepts only a bare address of at most
// MaxEmailLength bytes. localhost is the one dotless domain allowed.
func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if len(email) > MaxEmailLength {
		return "", ErrInvalidEmail
	}
	if err := validate.Var(email, "required,email"); err == nil {
		return email, nil
	}

	local, ok := strings.CutSuffix(email, "@localhost")
	if !ok {
		return "", ErrInvalidEmail
	}
	if err := validate.Var(local+"@localhost.localdomain", "email"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func outcome(err error) string {
	var providerErr *ProviderError
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrMessageRequired), errors.Is(err, ErrSessionIDRequired):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionIncomplete):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrModelUnavailable):
		return metrics.OutcomeUnavailable
	case errors.As(err, &providerErr):
		return metrics.OutcomeUpstream
	default:
		return metrics.OutcomeStoreError
	}
}
