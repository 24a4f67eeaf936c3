package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

// MemoryStore keeps sessions in process memory. Suitable for development and
// single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]chat.Session
	tokens   map[string]string
}

// NewMemoryStore returns an empty store whose sessions live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      normalizeTTL(ttl),
		now:      time.Now,
		sessions: make(map[string]chat.Session),
		tokens:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, state chat.State) (chat.Session, error) {
	sess := newSession(state, s.ttl, s.now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Token != "" {
		if key, ok := s.tokens[state.Token]; ok {
			if existing, live := s.sessions[key]; live && !existing.Expired(s.now()) {
				return chat.Session{}, fmt.Errorf("session: token %q already registered", state.Token)
			}
		}
		s.tokens[state.Token] = sess.Key
	}
	s.sessions[sess.Key] = cloneSession(sess)
	return sess, nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (chat.Session, error) {
	s.mu.RLock()
	key, ok := s.tokens[token]
	var sess chat.Session
	if ok {
		sess, ok = s.sessions[key]
	}
	s.mu.RUnlock()

	if !ok {
		return chat.Session{}, ErrNotFound
	}
	if sess.Expired(s.now()) {
		s.evict(key)
		return chat.Session{}, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) Save(_ context.Context, sess chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.Key]
	if !ok || existing.Expired(s.now()) {
		return ErrNotFound
	}

	if existing.State.Token != sess.State.Token {
		delete(s.tokens, existing.State.Token)
		if sess.State.Token != "" {
			s.tokens[sess.State.Token] = sess.Key
		}
	}

	existing.State = sess.State
	s.sessions[sess.Key] = cloneSession(existing)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.evict(key)
	return nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// PurgeExpired drops expired sessions and their token index entries.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, sess := range s.sessions {
		if !sess.Expired(now) {
			continue
		}
		if s.tokens[sess.State.Token] == key {
			delete(s.tokens, sess.State.Token)
		}
		delete(s.sessions, key)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		if s.tokens[sess.State.Token] == key {
			delete(s.tokens, sess.State.Token)
		}
		delete(s.sessions, key)
	}
}

func cloneSession(sess chat.Session) chat.Session {
	sess.State.History = append(chat.History(nil), sess.State.History...)
	return sess
}
