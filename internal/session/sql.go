package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

// sessionRow is the chat_sessions table. Token carries a unique index so
// chat requests resolve their session without scanning.
type sessionRow struct {
	SessionKey  string    `gorm:"primaryKey;size:40"`
	Token       string    `gorm:"uniqueIndex;size:320;not null"`
	SessionData string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	ExpireDate  time.Time `gorm:"index;not null"`
}

func (sessionRow) TableName() string {
	return "chat_sessions"
}

// SQLStore persists sessions through gorm.
type SQLStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// OpenPostgres opens a Postgres connection and migrates the session table.
func OpenPostgres(dsn string, ttl time.Duration) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("session: open postgres: %w", err)
	}
	return NewSQLStore(db, ttl)
}

// NewSQLStore wraps an open gorm handle and runs AutoMigrate.
func NewSQLStore(db *gorm.DB, ttl time.Duration) (*SQLStore, error) {
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	return &SQLStore{db: db, ttl: normalizeTTL(ttl), now: time.Now}, nil
}

func (s *SQLStore) Create(ctx context.Context, state chat.State) (chat.Session, error) {
	sess := newSession(state, s.ttl, s.now().UTC())

	data, err := json.Marshal(sess.State)
	if err != nil {
		return chat.Session{}, fmt.Errorf("session: encode state: %w", err)
	}

	row := sessionRow{
		SessionKey:  sess.Key,
		Token:       state.Token,
		SessionData: string(data),
		CreatedAt:   sess.CreatedAt,
		ExpireDate:  sess.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return chat.Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) FindByToken(ctx context.Context, token string) (chat.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Where("token = ? AND expire_date > ?", token, s.now().UTC()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("session: lookup token: %w", err)
	}

	var state chat.State
	if err := json.Unmarshal([]byte(row.SessionData), &state); err != nil {
		return chat.Session{}, fmt.Errorf("session: %w", err)
	}

	return chat.Session{
		Key:       row.SessionKey,
		State:     state,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpireDate,
	}, nil
}

func (s *SQLStore) Save(ctx context.Context, sess chat.Session) error {
	data, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&sessionRow{}).
		Where("session_key = ? AND expire_date > ?", sess.Key, s.now().UTC()).
		Updates(map[string]any{
			"token":        sess.State.Token,
			"session_data": string(data),
		})
	if res.Error != nil {
		return fmt.Errorf("session: save %s: %w", sess.Key, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "session_key = ?", key).Error; err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

// PurgeExpired removes expired rows and returns how many were deleted.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&sessionRow{}, "expire_date <= ?", s.now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("session: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
