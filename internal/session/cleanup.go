package session

import (
	"context"
	"log"
	"time"
)

// Purger is implemented by stores that do not expire rows on their own.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// StartCleanup periodically purges expired sessions until ctx is done.
func StartCleanup(ctx context.Context, p Purger, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[session] cleanup loop stopped")
			return
		case <-ticker.C:
			removed, err := p.PurgeExpired(ctx)
			if err != nil {
				log.Printf("[session] cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("[session] cleanup: removed %d expired sessions", removed)
			}
		}
	}
}
