package transport

import (
	"context"
	"time"
)

// ServerScoped is anything owned by a single community server.
type ServerScoped interface {
	ServerID() string
}

// Sendable is a resolved destination that can receive a delivery payload.
type Sendable interface {
	ServerScoped
	ID() string
	// TextCapable reports whether the destination accepts posted messages.
	TextCapable() bool
	Send(ctx context.Context, p Payload) error
}

// RoleMutable is a server handle that can grant and revoke member roles.
type RoleMutable interface {
	ServerScoped
	AddRole(ctx context.Context, memberID, roleID string) error
	RemoveRole(ctx context.Context, memberID, roleID string) error
}

// ChannelResolver resolves a configured channel id into a destination.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, serverID, channelID string) (Sendable, error)
}

// TextSender posts plain text to a channel. Used by the operator log sink.
type TextSender interface {
	SendText(ctx context.Context, channelID, text string) error
}

// Payload is the platform-neutral rendering of a notification.
type Payload struct {
	Content     string    `json:"content,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Color       int       `json:"color"`
	Fields      []Field   `json:"fields,omitempty"`
	Footer      string    `json:"footer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Member is the part of a server member the bot cares about.
type Member struct {
	ID    string
	Bot   bool
	Roles []string
}

// HasRole reports whether the member currently holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// MessageInfo is a fetched message reduced to what reaction rules inspect.
type MessageInfo struct {
	ID          string
	ServerID    string
	ChannelID   string
	EmbedTitles []string
}

// FirstEmbedTitle returns the title of the first embed, or "".
func (m MessageInfo) FirstEmbedTitle() string {
	if len(m.EmbedTitles) == 0 {
		return ""
	}
	return m.EmbedTitles[0]
}

// Inbound is a posted server message, as seen by the command layer.
type Inbound struct {
	ServerID  string
	ChannelID string
	MessageID string
	AuthorID  string
	AuthorBot bool
	Content   string
	// MentionedChannels lists channel mentions in order of appearance.
	MentionedChannels []string
}

// Replier answers an inbound message in its channel.
type Replier interface {
	Reply(ctx context.Context, to Inbound, text string) error
}

// Adapter is the gateway connection lifecycle.
type Adapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
