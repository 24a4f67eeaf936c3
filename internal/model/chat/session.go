package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// State keys inside the serialized session blob.
const (
	KeyEmail         = "user_email"
	KeyToken         = "custom_session_id"
	historyKeyPrefix = "chat_history_"
)

// Session is a stored session record. Key is the store's own identifier and
// is never handed to clients; they address the session through State.Token.
type Session struct {
	Key       string
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// State is the decoded session payload.
type State struct {
	Email   string
	Token   string
	History History
}

// HistoryKey returns the blob key under which the history for token is kept.
func HistoryKey(token string) string {
	return historyKeyPrefix + token
}

// MarshalJSON encodes the state using the flat key layout
// {"user_email", "custom_session_id", "chat_history_<token>"}.
func (s State) MarshalJSON() ([]byte, error) {
	blob := make(map[string]any, 3)
	if s.Email != "" {
		blob[KeyEmail] = s.Email
	}
	if s.Token != "" {
		blob[KeyToken] = s.Token
		if len(s.History) > 0 {
			blob[HistoryKey(s.Token)] = s.History
		}
	}
	return json.Marshal(blob)
}

// UnmarshalJSON decodes the flat key layout. Unknown keys are ignored.
func (s *State) UnmarshalJSON(data []byte) error {
	var blob map[string]json.RawMessage
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	var decoded State
	if raw, ok := blob[KeyEmail]; ok {
		if err := json.Unmarshal(raw, &decoded.Email); err != nil {
			return fmt.Errorf("decode %s: %w", KeyEmail, err)
		}
	}
	if raw, ok := blob[KeyToken]; ok {
		if err := json.Unmarshal(raw, &decoded.Token); err != nil {
			return fmt.Errorf("decode %s: %w", KeyToken, err)
		}
	}

	if raw, ok := blob[HistoryKey(decoded.Token)]; ok && decoded.Token != "" {
		if err := json.Unmarshal(raw, &decoded.History); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
	}

	*s = decoded
	return nil
}
