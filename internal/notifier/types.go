package notifier

import (
	"context"
	"time"

	"steamwatch/internal/steamid"
)

// Config controls audience selection and delivery.
type Config struct {
	GroupEnabled    bool
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration // 0 disables dedup
	DedupMaxEntries int
	SendTimeout     time.Duration
}

// Sender delivers text to a channel of one platform.
type Sender interface {
	SendText(ctx context.Context, channel, text string) error
}

// Audiences is the read side of the subscription store.
type Audiences interface {
	GroupOf(id steamid.ID) string
	GroupAudiences(group string) []string
	GlobalAudiences() []string
}

// Delivery is one attempt to notify an audience, kept in the history ring.
type Delivery struct {
	At       time.Time `json:"at"`
	Audience string    `json:"audience"`
	Text     string    `json:"text"`
	OK       bool      `json:"ok"`
	Deduped  bool      `json:"deduped,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// DeliveryEvent is the eventbus payload for notifier.* events.
type DeliveryEvent struct {
	SteamID  steamid.ID `json:"steamid"`
	Audience string     `json:"audience"`
	Key      string     `json:"key,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	Error    string     `json:"error,omitempty"`
}
