// Package snapshot turns heterogeneous before/after entity payloads into
// comparable attribute snapshots.
package snapshot

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrNoServer    = errors.New("event has no server id")
)

// Unavailable is the content placeholder for a partial message whose
// content could not be recovered.
const Unavailable = "\x00unavailable"

// Scalar and set attribute names.
const (
	AttrName        = "name"
	AttrColor       = "color"
	AttrPermissions = "permissions"
	AttrContent     = "content"
	AttrAuthor      = "author"
	AttrChannel     = "channel"
	AttrMute        = "mute"
	AttrDeaf        = "deaf"
)

type Kind string

const (
	RoleCreated       Kind = "role_created"
	RoleDeleted       Kind = "role_deleted"
	RoleUpdated       Kind = "role_updated"
	ChannelCreated    Kind = "channel_created"
	ChannelDeleted    Kind = "channel_deleted"
	ChannelUpdated    Kind = "channel_updated"
	MessageDeleted    Kind = "message_deleted"
	MessageUpdated    Kind = "message_updated"
	VoiceStateChanged Kind = "voice_state_changed"
)

// SubjectKind tells whether a permission overwrite targets a role or a member.
type SubjectKind string

const (
	SubjectRole   SubjectKind = "role"
	SubjectMember SubjectKind = "member"
)

// Overwrite is a channel permission overwrite for one subject.
type Overwrite struct {
	Subject string
	Kind    SubjectKind
	Allow   []string
	Deny    []string
}

// Snapshot is the comparable attribute view of an entity at one point in time.
type Snapshot struct {
	Scalars    map[string]string
	Sets       map[string][]string
	Overwrites map[string]Overwrite
}

func New() *Snapshot {
	return &Snapshot{
		Scalars:    map[string]string{},
		Sets:       map[string][]string{},
		Overwrites: map[string]Overwrite{},
	}
}

// Scalar returns a scalar attribute, or "" when s is nil or lacks it.
func (s *Snapshot) Scalar(name string) string {
	if s == nil {
		return ""
	}
	return s.Scalars[name]
}

// Entity is a raw payload the normalizer understands.
type Entity interface {
	EntityID() string
	Snapshot() *Snapshot
}

// Role is a raw role payload.
type Role struct {
	ID          string
	Name        string
	Color       int
	Permissions int64
}

func (r Role) EntityID() string { return r.ID }

func (r Role) Snapshot() *Snapshot {
	s := New()
	s.Scalars[AttrName] = r.Name
	s.Scalars[AttrColor] = HexColor(r.Color)
	s.Sets[AttrPermissions] = PermissionNames(r.Permissions)
	return s
}

// PermissionOverwrite is a raw overwrite with permission bit fields.
type PermissionOverwrite struct {
	ID    string
	Kind  SubjectKind
	Allow int64
	Deny  int64
}

// Channel is a raw channel payload.
type Channel struct {
	ID         string
	Name       string
	Overwrites []PermissionOverwrite
}

func (c Channel) EntityID() string { return c.ID }

func (c Channel) Snapshot() *Snapshot {
	s := New()
	s.Scalars[AttrName] = c.Name
	for _, o := range c.Overwrites {
		s.Overwrites[o.ID] = Overwrite{
			Subject: o.ID,
			Kind:    o.Kind,
			Allow:   PermissionNames(o.Allow),
			Deny:    PermissionNames(o.Deny),
		}
	}
	return s
}

// Message is a raw message payload. ContentUnavailable marks a partial
// message whose content could not be fetched.
type Message struct {
	ID                 string
	ChannelID          string
	AuthorID           string
	AuthorBot          bool
	Content            string
	ContentUnavailable bool
}

func (m Message) EntityID() string { return m.ID }

func (m Message) Snapshot() *Snapshot {
	s := New()
	s.Scalars[AttrChannel] = m.ChannelID
	if m.AuthorID != "" {
		s.Scalars[AttrAuthor] = m.AuthorID
	}
	if m.ContentUnavailable {
		s.Scalars[AttrContent] = Unavailable
	} else {
		s.Scalars[AttrContent] = m.Content
	}
	return s
}

// VoiceState is a member's voice presence. ChannelID is empty when the
// member is not connected. FlagsKnown is false when the payload carried no
// mute/deaf information (for example, a state that was never cached).
type VoiceState struct {
	UserID     string
	ChannelID  string
	Mute       bool
	Deaf       bool
	FlagsKnown bool
}

func (v VoiceState) EntityID() string { return v.UserID }

func (v VoiceState) Snapshot() *Snapshot {
	s := New()
	if v.ChannelID != "" {
		s.Scalars[AttrChannel] = v.ChannelID
	}
	if v.FlagsKnown {
		s.Scalars[AttrMute] = strconv.FormatBool(v.Mute)
		s.Scalars[AttrDeaf] = strconv.FormatBool(v.Deaf)
	}
	return s
}

// Event is one gateway state change. Before or After is nil when that side
// does not exist (create, delete) or was not cached.
type Event struct {
	// ID correlates log lines of one gateway event.
	ID       string
	Kind     Kind
	ServerID string
	Before   Entity
	After    Entity
}

// Pair is a normalized event ready for diffing.
type Pair struct {
	Kind     Kind
	ServerID string
	TargetID string
	Before   *Snapshot
	After    *Snapshot
	// Actor facts the pipeline filters on.
	AuthorBot bool
}

// Normalize converts a raw event into a snapshot pair.
func Normalize(ev Event) (Pair, error) {
	if ev.ServerID == "" {
		return Pair{}, ErrNoServer
	}
	p := Pair{Kind: ev.Kind, ServerID: ev.ServerID}

	switch ev.Kind {
	case RoleCreated, ChannelCreated:
		if ev.After == nil {
			return Pair{}, fmt.Errorf("%s: missing entity", ev.Kind)
		}
		p.After = ev.After.Snapshot()
	case RoleDeleted, ChannelDeleted, MessageDeleted:
		if ev.Before == nil {
			return Pair{}, fmt.Errorf("%s: missing entity", ev.Kind)
		}
		p.Before = ev.Before.Snapshot()
	case RoleUpdated, ChannelUpdated:
		if ev.Before == nil || ev.After == nil {
			return Pair{}, fmt.Errorf("%s: missing before or after", ev.Kind)
		}
		p.Before, p.After = ev.Before.Snapshot(), ev.After.Snapshot()
	case MessageUpdated:
		if ev.After == nil {
			return Pair{}, fmt.Errorf("%s: missing entity", ev.Kind)
		}
		p.After = ev.After.Snapshot()
		if ev.Before != nil {
			p.Before = ev.Before.Snapshot()
		} else {
			// Uncached original: only the placeholder is known.
			before := New()
			before.Scalars[AttrContent] = Unavailable
			before.Scalars[AttrChannel] = p.After.Scalar(AttrChannel)
			if a := p.After.Scalar(AttrAuthor); a != "" {
				before.Scalars[AttrAuthor] = a
			}
			p.Before = before
		}
	case VoiceStateChanged:
		if ev.After == nil {
			return Pair{}, fmt.Errorf("%s: missing entity", ev.Kind)
		}
		p.After = ev.After.Snapshot()
		if ev.Before != nil {
			p.Before = ev.Before.Snapshot()
		} else {
			p.Before = New()
		}
	default:
		return Pair{}, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}

	for _, e := range []Entity{ev.After, ev.Before} {
		if e == nil {
			continue
		}
		if p.TargetID == "" {
			p.TargetID = e.EntityID()
		}
		if m, ok := e.(Message); ok && m.AuthorBot {
			p.AuthorBot = true
		}
	}
	return p, nil
}

// HexColor renders a 24-bit color as #rrggbb.
func HexColor(c int) string {
	return fmt.Sprintf("#%06x", c&0xFFFFFF)
}
