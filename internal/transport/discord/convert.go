package discord

import (
	"regexp"

	"github.com/bwmarrin/discordgo"

	"straznik/internal/audit"
	"straznik/internal/snapshot"
	"straznik/internal/transport"
)

func roleEntity(r *discordgo.Role) snapshot.Role {
	return snapshot.Role{ID: r.ID, Name: r.Name, Color: r.Color, Permissions: r.Permissions}
}

func channelEntity(c *discordgo.Channel) snapshot.Channel {
	out := snapshot.Channel{ID: c.ID, Name: c.Name}
	for _, o := range c.PermissionOverwrites {
		if o == nil {
			continue
		}
		kind := snapshot.SubjectRole
		if o.Type == discordgo.PermissionOverwriteTypeMember {
			kind = snapshot.SubjectMember
		}
		out.Overwrites = append(out.Overwrites, snapshot.PermissionOverwrite{ID: o.ID, Kind: kind, Allow: o.Allow, Deny: o.Deny})
	}
	return out
}

func messageEntity(m *discordgo.Message) snapshot.Message {
	out := snapshot.Message{ID: m.ID, ChannelID: m.ChannelID, Content: m.Content}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorBot = m.Author.Bot
	}
	return out
}

func voiceEntity(v *discordgo.VoiceState) snapshot.VoiceState {
	return snapshot.VoiceState{UserID: v.UserID, ChannelID: v.ChannelID, Mute: v.Mute, Deaf: v.Deaf, FlagsKnown: true}
}

func auditEntry(e *discordgo.AuditLogEntry) audit.Entry {
	out := audit.Entry{ID: e.ID, ExecutorID: e.UserID, TargetID: e.TargetID}
	if at, err := discordgo.SnowflakeTimestamp(e.ID); err == nil {
		out.At = at
	}
	for _, c := range e.Changes {
		if c != nil && c.Key != nil {
			out.ChangeKeys = append(out.ChangeKeys, string(*c.Key))
		}
	}
	return out
}

func messageInfo(m *discordgo.Message) transport.MessageInfo {
	out := transport.MessageInfo{ID: m.ID, ServerID: m.GuildID, ChannelID: m.ChannelID}
	for _, e := range m.Embeds {
		if e != nil {
			out.EmbedTitles = append(out.EmbedTitles, e.Title)
		}
	}
	return out
}

var channelMentionRe = regexp.MustCompile(`<#(\d+)>`)

func inbound(m *discordgo.Message) transport.Inbound {
	in := transport.Inbound{
		ServerID:  m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
	}
	if m.Author != nil {
		in.AuthorID = m.Author.ID
		in.AuthorBot = m.Author.Bot
	}
	for _, sub := range channelMentionRe.FindAllStringSubmatch(m.Content, -1) {
		in.MentionedChannels = append(in.MentionedChannels, sub[1])
	}
	return in
}

func embed(p transport.Payload) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Description,
		Color:       p.Color,
	}
	if !p.Timestamp.IsZero() {
		e.Timestamp = p.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	for _, f := range p.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if p.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: p.Footer}
	}
	return e
}

// textCapable reports whether members can post messages in a channel type.
func textCapable(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}
