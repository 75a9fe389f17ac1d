package reactionrole

import (
	"context"

	"straznik/internal/eventbus"
	"straznik/internal/fault"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

// Reaction is one reaction add or remove. Message is nil when the event
// only referenced the message by id.
type Reaction struct {
	ServerID  string
	ChannelID string
	MessageID string
	UserID    string
	UserBot   bool
	EmojiID   string
	EmojiName string
	Message   *transport.MessageInfo
}

type MemberResolver interface {
	FetchMember(ctx context.Context, serverID, userID string) (transport.Member, error)
}

type MessageFetcher interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (transport.MessageInfo, error)
}

// Guilds hands out role-mutation handles per server.
type Guilds interface {
	Guild(serverID string) transport.RoleMutable
}

type Status int

const (
	Unchanged Status = iota
	Granted
	Revoked
	Failed
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Revoked:
		return "revoked"
	case Failed:
		return "failed"
	}
	return "unchanged"
}

// Result is the outcome for one matched role.
type Result struct {
	RoleID string
	Status Status
	Err    error
}

type Synchronizer struct {
	reg      *Registry
	members  MemberResolver
	messages MessageFetcher
	guilds   Guilds
	bus      eventbus.Bus
	log      logx.Logger
}

func NewSynchronizer(reg *Registry, members MemberResolver, messages MessageFetcher, guilds Guilds, bus eventbus.Bus, log logx.Logger) *Synchronizer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Synchronizer{
		reg:      reg,
		members:  members,
		messages: messages,
		guilds:   guilds,
		bus:      bus,
		log:      log.With(logx.String("comp", "reactionrole")),
	}
}

// OnAdd grants every role the reaction maps to and the member lacks.
func (s *Synchronizer) OnAdd(ctx context.Context, r Reaction) []Result {
	return s.sync(ctx, r, true)
}

// OnRemove revokes every role the reaction maps to and the member holds.
func (s *Synchronizer) OnRemove(ctx context.Context, r Reaction) []Result {
	return s.sync(ctx, r, false)
}

func (s *Synchronizer) sync(ctx context.Context, r Reaction, add bool) []Result {
	if r.UserBot || r.ServerID == "" || s.reg.Len() == 0 {
		return nil
	}
	log := s.log.With(
		logx.String("guild_id", r.ServerID),
		logx.String("user_id", r.UserID),
		logx.String("message_id", r.MessageID),
	)

	roles := s.match(ctx, log, r)
	if len(roles) == 0 {
		return nil
	}

	results := make([]Result, 0, len(roles))
	member, err := s.members.FetchMember(ctx, r.ServerID, r.UserID)
	if err != nil {
		err = fault.Classify("fetch member", err)
		fault.Log(log, "fetch member", err)
		for _, role := range roles {
			results = append(results, Result{RoleID: role, Status: Failed, Err: err})
		}
		s.publish(r, results)
		return results
	}

	guild := s.guilds.Guild(r.ServerID)
	for _, role := range roles {
		res := Result{RoleID: role}
		switch {
		case add && !member.HasRole(role):
			if res.Err = guild.AddRole(ctx, r.UserID, role); res.Err == nil {
				res.Status = Granted
				log.Info("role granted", logx.String("role_id", role))
			}
		case !add && member.HasRole(role):
			if res.Err = guild.RemoveRole(ctx, r.UserID, role); res.Err == nil {
				res.Status = Revoked
				log.Info("role revoked", logx.String("role_id", role))
			}
		}
		if res.Err != nil {
			res.Status = Failed
			res.Err = fault.Classify("mutate role", res.Err)
			fault.Log(log, "mutate role", res.Err, logx.String("role_id", role))
		}
		results = append(results, res)
	}
	s.publish(r, results)
	return results
}

// match resolves the roles a reaction maps to, fetching the message when
// the agreement rule needs its embed title.
func (s *Synchronizer) match(ctx context.Context, log logx.Logger, r Reaction) []string {
	var roles []string
	if role, ok := s.reg.RoleFor(r.EmojiID); ok {
		roles = append(roles, role)
	}
	if !s.reg.NeedsTitle(r.EmojiName) {
		return roles
	}

	msg := r.Message
	if msg == nil {
		if s.messages == nil {
			return roles
		}
		fetched, err := s.messages.FetchMessage(ctx, r.ChannelID, r.MessageID)
		if err != nil {
			fault.Log(log, "fetch message", fault.Classify("fetch message", err))
			return roles
		}
		msg = &fetched
	}
	if role, ok := s.reg.AgreementRole(r.EmojiName, msg.FirstEmbedTitle()); ok && !contains(roles, role) {
		roles = append(roles, role)
	}
	return roles
}

func (s *Synchronizer) publish(r Reaction, results []Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeRoleSync, ServerID: r.ServerID, Data: results})
}

// FailedCount reports how many results failed.
func FailedCount(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Status == Failed {
			n++
		}
	}
	return n
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
