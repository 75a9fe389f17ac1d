package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"straznik/internal/audit"
	"straznik/internal/fault"
	"straznik/internal/reactionrole"
	"straznik/internal/transport"
)

var (
	_ transport.Adapter           = (*Adapter)(nil)
	_ transport.ChannelResolver   = (*Adapter)(nil)
	_ transport.TextSender        = (*Adapter)(nil)
	_ transport.Replier           = (*Adapter)(nil)
	_ audit.Trail                 = (*Adapter)(nil)
	_ reactionrole.MemberResolver = (*Adapter)(nil)
	_ reactionrole.MessageFetcher = (*Adapter)(nil)
	_ reactionrole.Guilds         = (*Adapter)(nil)
)

// QueryAudit implements audit.Trail.
func (a *Adapter) QueryAudit(ctx context.Context, serverID string, action audit.Action, limit int) ([]audit.Entry, error) {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	log, err := a.session.GuildAuditLog(serverID, "", "", int(action), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fault.Classify("audit.query", err)
	}
	out := make([]audit.Entry, 0, len(log.AuditLogEntries))
	for _, e := range log.AuditLogEntries {
		if e != nil {
			out = append(out, auditEntry(e))
		}
	}
	return out, nil
}

// ResolveChannel implements transport.ChannelResolver, preferring the
// session state over a REST lookup.
func (a *Adapter) ResolveChannel(ctx context.Context, serverID, channelID string) (transport.Sendable, error) {
	if ch, err := a.session.State.Channel(channelID); err == nil {
		return &channel{a: a, ch: ch}, nil
	}
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	ch, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fault.Classify("channel.resolve", err)
	}
	return &channel{a: a, ch: ch}, nil
}

// channel is a resolved destination channel.
type channel struct {
	a  *Adapter
	ch *discordgo.Channel
}

func (c *channel) ID() string        { return c.ch.ID }
func (c *channel) ServerID() string  { return c.ch.GuildID }
func (c *channel) TextCapable() bool { return textCapable(c.ch.Type) }

func (c *channel) Send(ctx context.Context, p transport.Payload) error {
	ctx, cancel := c.a.requestCtx(ctx)
	defer cancel()
	_, err := c.a.session.ChannelMessageSendComplex(c.ch.ID, &discordgo.MessageSend{
		Content: p.Content,
		Embeds:  []*discordgo.MessageEmbed{embed(p)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fault.Classify("channel.send", err)
	}
	return nil
}

// SendText implements transport.TextSender.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	if _, err := a.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fault.Classify("channel.send_text", err)
	}
	return nil
}

// Reply implements transport.Replier.
func (a *Adapter) Reply(ctx context.Context, to transport.Inbound, text string) error {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	ref := &discordgo.MessageReference{MessageID: to.MessageID, ChannelID: to.ChannelID, GuildID: to.ServerID}
	if _, err := a.session.ChannelMessageSendReply(to.ChannelID, text, ref, discordgo.WithContext(ctx)); err != nil {
		return fault.Classify("message.reply", err)
	}
	return nil
}

// FetchMember implements reactionrole.MemberResolver. Roles must be fresh,
// so the state cache is bypassed.
func (a *Adapter) FetchMember(ctx context.Context, serverID, userID string) (transport.Member, error) {
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	m, err := a.session.GuildMember(serverID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Member{}, fault.Classify("member.fetch", err)
	}
	out := transport.Member{ID: userID, Roles: m.Roles}
	if m.User != nil {
		out.Bot = m.User.Bot
	}
	return out, nil
}

// FetchMessage implements reactionrole.MessageFetcher.
func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (transport.MessageInfo, error) {
	if m, err := a.session.State.Message(channelID, messageID); err == nil {
		return messageInfo(m), nil
	}
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	m, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageInfo{}, fault.Classify("message.fetch", err)
	}
	return messageInfo(m), nil
}

// IsAdministrator reports whether userID holds the Administrator
// permission in the channel's server.
func (a *Adapter) IsAdministrator(ctx context.Context, serverID, channelID, userID string) (bool, error) {
	perms, err := a.session.State.UserChannelPermissions(userID, channelID)
	if err == nil {
		return perms&discordgo.PermissionAdministrator != 0, nil
	}
	// Member not in state: rebuild from the member's roles.
	g, gerr := a.session.State.Guild(serverID)
	if gerr != nil {
		return false, fault.Classify("permissions.guild", gerr)
	}
	if g.OwnerID == userID {
		return true, nil
	}
	ctx, cancel := a.requestCtx(ctx)
	defer cancel()
	m, merr := a.session.GuildMember(serverID, userID, discordgo.WithContext(ctx))
	if merr != nil {
		return false, fault.Classify("permissions.member", merr)
	}
	return rolesGrantAdmin(g.Roles, serverID, m.Roles), nil
}

// rolesGrantAdmin folds the @everyone role and the member's roles.
func rolesGrantAdmin(roles []*discordgo.Role, serverID string, memberRoles []string) bool {
	held := make(map[string]bool, len(memberRoles)+1)
	held[serverID] = true
	for _, id := range memberRoles {
		held[id] = true
	}
	var perms int64
	for _, r := range roles {
		if r != nil && held[r.ID] {
			perms |= r.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// Guild implements reactionrole.Guilds.
func (a *Adapter) Guild(serverID string) transport.RoleMutable {
	return guild{a: a, id: serverID}
}

type guild struct {
	a  *Adapter
	id string
}

func (g guild) ServerID() string { return g.id }

func (g guild) AddRole(ctx context.Context, memberID, roleID string) error {
	ctx, cancel := g.a.requestCtx(ctx)
	defer cancel()
	if err := g.a.session.GuildMemberRoleAdd(g.id, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fault.Classify("role.add", err)
	}
	return nil
}

func (g guild) RemoveRole(ctx context.Context, memberID, roleID string) error {
	ctx, cancel := g.a.requestCtx(ctx)
	defer cancel()
	if err := g.a.session.GuildMemberRoleRemove(g.id, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fault.Classify("role.remove", err)
	}
	return nil
}
