package notifier

import (
	"time"

	"straznik/internal/storage"
	"straznik/internal/transport"
)

// Config controls rendering and pacing of deliveries.
type Config struct {
	// Footer is appended to every embed when set.
	Footer string
	// RatePerSec paces sends per destination channel; <=0 means 5.
	RatePerSec int
}

// ChangeRecord is one human-readable notification about a detected change.
// It is built per event and handed to Route exactly once.
type ChangeRecord struct {
	ServerID string
	Category storage.Category
	// Fallback is tried when Category has no channel configured.
	Fallback    storage.Category
	Title       string
	Color       int
	Description string
	Fields      []transport.Field
	Timestamp   time.Time
}

// Outcome is the result of routing one record.
type Outcome int

const (
	Delivered Outcome = iota
	Dropped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Drop reasons.
const (
	ReasonNotRouted  = "not_routed"
	ReasonStoreError = "store_error"
	ReasonNoChannel  = "channel_not_found"
	ReasonUnresolved = "channel_unresolved"
	ReasonNotText    = "channel_not_text"
	ReasonNoResolver = "no_resolver"
)

type HistoryItem struct {
	At       time.Time
	ServerID string
	Category storage.Category
	Title    string
	Outcome  Outcome
	Reason   string
}

// RouteEvent is emitted on the event bus for every routed record.
type RouteEvent struct {
	ServerID  string           `json:"guild_id"`
	Category  storage.Category `json:"category"`
	ChannelID string           `json:"channel_id,omitempty"`
	Title     string           `json:"title"`
	Outcome   string           `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
	Record    ChangeRecord     `json:"-"`
}
