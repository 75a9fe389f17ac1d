package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"straznik/internal/reactionrole"
	"straznik/internal/snapshot"
	logx "straznik/pkg/logx"
)

// roleCache keeps the last seen version of every role. The session state
// is updated before handlers run, so it cannot supply the old side of a
// role update.
type roleCache struct {
	mu    sync.Mutex
	roles map[string]map[string]snapshot.Role
}

func newRoleCache() *roleCache {
	return &roleCache{roles: make(map[string]map[string]snapshot.Role)}
}

func (c *roleCache) load(serverID string, roles []*discordgo.Role) {
	m := make(map[string]snapshot.Role, len(roles))
	for _, r := range roles {
		if r != nil {
			m[r.ID] = roleEntity(r)
		}
	}
	c.mu.Lock()
	c.roles[serverID] = m
	c.mu.Unlock()
}

// put stores r and returns the version it replaced.
func (c *roleCache) put(serverID string, r snapshot.Role) (snapshot.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.roles[serverID]
	if m == nil {
		m = make(map[string]snapshot.Role)
		c.roles[serverID] = m
	}
	old, ok := m[r.ID]
	m[r.ID] = r
	return old, ok
}

func (c *roleCache) remove(serverID, roleID string) (snapshot.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.roles[serverID][roleID]
	delete(c.roles[serverID], roleID)
	return old, ok
}

func (c *roleCache) forget(serverID string) {
	c.mu.Lock()
	delete(c.roles, serverID)
	c.mu.Unlock()
}

func (a *Adapter) registerHandlers() {
	s := a.session
	s.AddHandler(a.onGuildCreate)
	s.AddHandler(a.onGuildDelete)
	s.AddHandler(a.onRoleCreate)
	s.AddHandler(a.onRoleUpdate)
	s.AddHandler(a.onRoleDelete)
	s.AddHandler(a.onChannelCreate)
	s.AddHandler(a.onChannelUpdate)
	s.AddHandler(a.onChannelDelete)
	s.AddHandler(a.onMessageCreate)
	s.AddHandler(a.onMessageUpdate)
	s.AddHandler(a.onMessageDelete)
	s.AddHandler(a.onVoiceStateUpdate)
	s.AddHandler(a.onReactionAdd)
	s.AddHandler(a.onReactionRemove)
}

func (a *Adapter) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil {
		return
	}
	a.roles.load(e.ID, e.Roles)
	a.log.Debug("guild available", logx.String("guild_id", e.ID), logx.Int("roles", len(e.Roles)))
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild == nil {
		return
	}
	a.roles.forget(e.ID)
}

func (a *Adapter) onRoleCreate(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	r := roleEntity(e.Role)
	a.roles.put(e.GuildID, r)
	a.emit(snapshot.RoleCreated, e.GuildID, nil, r)
}

func (a *Adapter) onRoleUpdate(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
	if e.GuildRole == nil || e.Role == nil {
		return
	}
	r := roleEntity(e.Role)
	old, ok := a.roles.put(e.GuildID, r)
	if !ok {
		a.log.Debug("role update without cached version", logx.String("guild_id", e.GuildID), logx.String("role_id", r.ID))
		return
	}
	a.emit(snapshot.RoleUpdated, e.GuildID, old, r)
}

func (a *Adapter) onRoleDelete(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
	old, ok := a.roles.remove(e.GuildID, e.RoleID)
	if !ok {
		a.log.Debug("role delete without cached version", logx.String("guild_id", e.GuildID), logx.String("role_id", e.RoleID))
		return
	}
	a.emit(snapshot.RoleDeleted, e.GuildID, old, nil)
}

func (a *Adapter) onChannelCreate(_ *discordgo.Session, e *discordgo.ChannelCreate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	a.emit(snapshot.ChannelCreated, e.GuildID, nil, channelEntity(e.Channel))
}

func (a *Adapter) onChannelUpdate(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	if e.BeforeUpdate == nil {
		a.log.Debug("channel update without cached version", logx.String("guild_id", e.GuildID), logx.String("channel_id", e.ID))
		return
	}
	a.emit(snapshot.ChannelUpdated, e.GuildID, channelEntity(e.BeforeUpdate), channelEntity(e.Channel))
}

func (a *Adapter) onChannelDelete(_ *discordgo.Session, e *discordgo.ChannelDelete) {
	if e.Channel == nil || e.GuildID == "" {
		return
	}
	a.emit(snapshot.ChannelDeleted, e.GuildID, channelEntity(e.Channel), nil)
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Message == nil || e.GuildID == "" || e.Author == nil || e.Author.Bot {
		return
	}
	sink := a.sinks.Load().Message
	if sink == nil {
		return
	}
	in := inbound(e.Message)
	a.dispatch("message.create", func(ctx context.Context) { sink(ctx, in) })
}

func (a *Adapter) onMessageUpdate(_ *discordgo.Session, e *discordgo.MessageUpdate) {
	if e.Message == nil || e.GuildID == "" {
		return
	}
	// Link unfurls arrive as updates without an edit timestamp.
	if e.EditedTimestamp == nil || e.Author == nil {
		return
	}
	var before snapshot.Entity
	if e.BeforeUpdate != nil {
		before = messageEntity(e.BeforeUpdate)
	}
	a.emit(snapshot.MessageUpdated, e.GuildID, before, messageEntity(e.Message))
}

func (a *Adapter) onMessageDelete(_ *discordgo.Session, e *discordgo.MessageDelete) {
	if e.Message == nil || e.GuildID == "" {
		return
	}
	var before snapshot.Message
	if e.BeforeDelete != nil {
		before = messageEntity(e.BeforeDelete)
	} else {
		// Deleted messages cannot be fetched, so an uncached one only
		// carries its ids.
		before = snapshot.Message{ID: e.ID, ChannelID: e.ChannelID, ContentUnavailable: true}
	}
	a.emit(snapshot.MessageDeleted, e.GuildID, before, nil)
}

func (a *Adapter) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.GuildID == "" {
		return
	}
	var before snapshot.Entity
	if e.BeforeUpdate != nil {
		before = voiceEntity(e.BeforeUpdate)
	}
	a.emit(snapshot.VoiceStateChanged, e.GuildID, before, voiceEntity(e.VoiceState))
}

func (a *Adapter) onReactionAdd(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
	if e.MessageReaction == nil || e.GuildID == "" {
		return
	}
	bot := e.Member != nil && e.Member.User != nil && e.Member.User.Bot
	a.reaction(reactionOf(e.MessageReaction, bot || a.isSelf(e.UserID)), true)
}

func (a *Adapter) onReactionRemove(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
	if e.MessageReaction == nil || e.GuildID == "" {
		return
	}
	a.reaction(reactionOf(e.MessageReaction, a.isBot(e.GuildID, e.UserID)), false)
}

func (a *Adapter) reaction(r reactionrole.Reaction, added bool) {
	sink := a.sinks.Load().Reaction
	if sink == nil {
		return
	}
	name := "reaction.remove"
	if added {
		name = "reaction.add"
	}
	id := uuid.NewString()
	a.dispatch(name, func(ctx context.Context) {
		a.log.Trace("reaction", logx.String("event_id", id), logx.String("emoji", r.EmojiName), logx.Bool("added", added))
		sink(ctx, r, added)
	})
}

func reactionOf(m *discordgo.MessageReaction, bot bool) reactionrole.Reaction {
	return reactionrole.Reaction{
		ServerID:  m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.MessageID,
		UserID:    m.UserID,
		UserBot:   bot,
		EmojiID:   m.Emoji.ID,
		EmojiName: m.Emoji.Name,
	}
}

func (a *Adapter) isSelf(userID string) bool {
	st := a.session.State
	return st != nil && st.User != nil && st.User.ID == userID
}

// isBot answers from the member cache. Unknown members count as humans.
func (a *Adapter) isBot(serverID, userID string) bool {
	if a.isSelf(userID) {
		return true
	}
	m, err := a.session.State.Member(serverID, userID)
	return err == nil && m.User != nil && m.User.Bot
}
