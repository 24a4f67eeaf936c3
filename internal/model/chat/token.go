package chat

import (
	"strings"

	"github.com/google/uuid"
)

// NewToken mints the client-facing session token "<email>_<8 hex>".
func NewToken(email string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return email + "_" + suffix
}
