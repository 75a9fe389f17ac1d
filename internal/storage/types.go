package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled        = errors.New("storage disabled")
	ErrUnknownCategory = errors.New("unknown log category")
	// ErrColumnMissing is returned when a category's column could not be
	// migrated into the live schema. The other categories keep working.
	ErrColumnMissing = errors.New("category column missing from schema")
)

// Category is a class of notification with its own destination channel.
type Category string

const (
	CategoryText   Category = "text"
	CategoryEdit   Category = "edit"
	CategoryVoice  Category = "voice"
	CategoryChange Category = "change"
)

// Categories lists every category in column order.
var Categories = []Category{CategoryText, CategoryEdit, CategoryVoice, CategoryChange}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryText, CategoryEdit, CategoryVoice, CategoryChange:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// RoutingConfig maps categories to channel ids for one server.
// An empty channel id means the category is not routed.
type RoutingConfig struct {
	ServerID string `json:"guild_id"`
	Text     string `json:"text_channel_id,omitempty"`
	Edit     string `json:"edit_channel_id,omitempty"`
	Voice    string `json:"voice_channel_id,omitempty"`
	Change   string `json:"change_channel_id,omitempty"`
}

// Channel returns the channel routed for c, or "".
func (r RoutingConfig) Channel(c Category) string {
	switch c {
	case CategoryText:
		return r.Text
	case CategoryEdit:
		return r.Edit
	case CategoryVoice:
		return r.Voice
	case CategoryChange:
		return r.Change
	}
	return ""
}

// With returns a copy with only c's channel replaced.
func (r RoutingConfig) With(c Category, channelID string) RoutingConfig {
	switch c {
	case CategoryText:
		r.Text = channelID
	case CategoryEdit:
		r.Edit = channelID
	case CategoryVoice:
		r.Voice = channelID
	case CategoryChange:
		r.Change = channelID
	}
	return r
}

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres, mysql
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the routing configuration store.
type Store interface {
	// Get returns the server's record; ok is false when none exists.
	Get(ctx context.Context, serverID string) (cfg RoutingConfig, ok bool, err error)
	// SetChannel replaces one category's channel and keeps the other three.
	SetChannel(ctx context.Context, serverID string, c Category, channelID string) error
	Close() error
}

// MigrationReport describes what the open-time migration did.
type MigrationReport struct {
	CreatedTable bool
	Added        []string
	Failed       []error
	Columns      []string
}

// Migrated is implemented by stores that run a schema migration at open.
type Migrated interface {
	Migration() MigrationReport
}
