// Package events publishes completed chat exchanges for downstream consumers
// (transcript archiving, analytics). Delivery is best effort.
package events

import (
	"context"
	"time"
)

// Exchange is one completed human/assistant round trip.
type Exchange struct {
	SessionID     string    `json:"session_id"`
	Email         string    `json:"email"`
	Message       string    `json:"message"`
	Response      string    `json:"response"`
	HistoryLength int       `json:"history_length"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher delivers exchange events.
type Publisher interface {
	PublishExchange(ctx context.Context, ex Exchange) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishExchange(context.Context, Exchange) error { return nil }
func (Nop) Close() error                                      { return nil }
