package config

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Notifier    NotifierConfig    `json:"notifier"`
	Attribution AttributionConfig `json:"attribution"`

	// ReactionRoles is read once at start. Changes need a restart.
	ReactionRoles ReactionRolesConfig `json:"reaction_roles"`

	Mirror *MirrorConfig `json:"mirror,omitempty"`
	Stats  *StatsConfig  `json:"stats,omitempty"`
}

// DiscordConfig controls the gateway session.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - prefix: "!"
//   - request_timeout: "10s"
//   - handler_timeout: "30s"
//   - handler_concurrency: 16
//   - event_queue: 1024
//   - message_cache: 200
type DiscordConfig struct {
	Token              string `json:"token"`
	Prefix             string `json:"prefix,omitempty"`
	RequestTimeout     string `json:"request_timeout,omitempty"`
	HandlerTimeout     string `json:"handler_timeout,omitempty"`
	HandlerConcurrency int    `json:"handler_concurrency,omitempty"`
	EventQueue         int    `json:"event_queue,omitempty"`
	MessageCache       int    `json:"message_cache,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiscord mirrors warn+ log lines into an operator channel.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects where routing configuration lives.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./logChannels.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://bot@db/straznik?sslmode=disable" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres / mysql (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type NotifierConfig struct {
	Footer     string `json:"footer,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// AttributionConfig bounds how old an audit entry may be and still name
// the executor of a change. Default "5s".
type AttributionConfig struct {
	Window string `json:"window,omitempty"`
}

type ReactionRolesConfig struct {
	Rules     []ReactionRoleRule `json:"rules"`
	Agreement *AgreementConfig   `json:"agreement,omitempty"`
}

type ReactionRoleRule struct {
	Emoji string `json:"emoji"`
	Role  string `json:"role"`
}

// AgreementConfig grants Role for reacting with Emoji (by name) on a
// message whose first embed is titled MessageTitle.
type AgreementConfig struct {
	Emoji        string `json:"emoji"`
	MessageTitle string `json:"message_title"`
	Role         string `json:"role"`
}

// MirrorConfig publishes change records to NATS.
type MirrorConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	Subject       string `json:"subject,omitempty"`
	MaxReconnects int    `json:"max_reconnects,omitempty"`
	ReconnectWait string `json:"reconnect_wait,omitempty"`
}

// StatsConfig schedules the periodic outcome report.
type StatsConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule"`
	Timezone  string `json:"timezone,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}
