package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straznik/internal/reactionrole"
	"straznik/internal/snapshot"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

func startedAdapter(t *testing.T) (*Adapter, <-chan snapshot.Event) {
	t.Helper()
	a, err := New(Config{Token: "test"}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a.runMu.Lock()
	a.startHandlers(ctx)
	a.runMu.Unlock()

	events := make(chan snapshot.Event, 8)
	a.SetSinks(Sinks{Event: func(_ context.Context, ev snapshot.Event) { events <- ev }})
	return a, events
}

func next(t *testing.T, ch <-chan snapshot.Event) snapshot.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return snapshot.Event{}
	}
}

func none(t *testing.T, ch <-chan snapshot.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}

func TestDispatch_FullQueueDropsWithoutBlocking(t *testing.T) {
	a, err := New(Config{Token: "test", HandlerConcurrency: 1, EventQueue: 1}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.runMu.Lock()
	a.startHandlers(ctx)
	a.runMu.Unlock()

	release := make(chan struct{})
	defer close(release)
	a.SetSinks(Sinks{Event: func(ctx context.Context, _ snapshot.Event) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}})

	// One event runs, one waits in the pump, one sits in the queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 6; i++ {
			a.emit(snapshot.RoleCreated, "g1", nil, snapshot.Role{ID: "r1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked the gateway reader")
	}
	assert.GreaterOrEqual(t, a.Dropped(), uint64(3))
}

func TestRoleUpdate_UsesCachedVersion(t *testing.T) {
	a, events := startedAdapter(t)

	a.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{
		ID:    "g1",
		Roles: []*discordgo.Role{{ID: "r1", Name: "Old", Color: 0xff0000}},
	}})
	a.onRoleUpdate(nil, &discordgo.GuildRoleUpdate{GuildRole: &discordgo.GuildRole{
		GuildID: "g1",
		Role:    &discordgo.Role{ID: "r1", Name: "New", Color: 0xff0000},
	}})

	ev := next(t, events)
	assert.Equal(t, snapshot.RoleUpdated, ev.Kind)
	assert.Equal(t, "g1", ev.ServerID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "Old", ev.Before.(snapshot.Role).Name)
	assert.Equal(t, "New", ev.After.(snapshot.Role).Name)
}

func TestRoleUpdate_UncachedIsSkipped(t *testing.T) {
	a, events := startedAdapter(t)
	a.onRoleUpdate(nil, &discordgo.GuildRoleUpdate{GuildRole: &discordgo.GuildRole{
		GuildID: "g1",
		Role:    &discordgo.Role{ID: "r9", Name: "X"},
	}})
	none(t, events)

	// The update primed the cache, so a delete now has a before side.
	a.onRoleDelete(nil, &discordgo.GuildRoleDelete{GuildID: "g1", RoleID: "r9"})
	ev := next(t, events)
	assert.Equal(t, snapshot.RoleDeleted, ev.Kind)
	assert.Nil(t, ev.After)
}

func TestMessageDelete_Uncached(t *testing.T) {
	a, events := startedAdapter(t)
	a.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1"}})

	ev := next(t, events)
	require.Equal(t, snapshot.MessageDeleted, ev.Kind)
	before := ev.Before.(snapshot.Message)
	assert.True(t, before.ContentUnavailable)
	assert.Equal(t, "c1", before.ChannelID)
	assert.Empty(t, before.AuthorID)
}

func TestMessageUpdate_WithoutEditTimestampIgnored(t *testing.T) {
	a, events := startedAdapter(t)
	msg := &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Author: &discordgo.User{ID: "u1"}, Content: "x"}
	a.onMessageUpdate(nil, &discordgo.MessageUpdate{Message: msg})
	none(t, events)

	edited := time.Now()
	msg.EditedTimestamp = &edited
	a.onMessageUpdate(nil, &discordgo.MessageUpdate{Message: msg})
	ev := next(t, events)
	assert.Equal(t, snapshot.MessageUpdated, ev.Kind)
	assert.Nil(t, ev.Before)
}

func TestDirectMessagesIgnored(t *testing.T) {
	a, events := startedAdapter(t)
	a.onChannelCreate(nil, &discordgo.ChannelCreate{Channel: &discordgo.Channel{ID: "dm"}})
	none(t, events)
}

func TestReactionSink(t *testing.T) {
	a, _ := startedAdapter(t)
	got := make(chan reactionrole.Reaction, 1)
	a.SetSinks(Sinks{Reaction: func(_ context.Context, r reactionrole.Reaction, added bool) {
		assert.True(t, added)
		got <- r
	}})
	a.onReactionAdd(nil, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:    "u1",
			MessageID: "m1",
			ChannelID: "c1",
			GuildID:   "g1",
			Emoji:     discordgo.Emoji{ID: "e1", Name: "vct"},
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: "u1", Bot: true}},
	})
	select {
	case r := <-got:
		assert.Equal(t, "e1", r.EmojiID)
		assert.Equal(t, "vct", r.EmojiName)
		assert.True(t, r.UserBot)
	case <-time.After(2 * time.Second):
		t.Fatal("no reaction")
	}
}

func TestChannelEntity_Overwrites(t *testing.T) {
	c := channelEntity(&discordgo.Channel{
		ID:   "c1",
		Name: "general",
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "r1", Type: discordgo.PermissionOverwriteTypeRole, Allow: 1024},
			{ID: "u1", Type: discordgo.PermissionOverwriteTypeMember, Deny: 2048},
		},
	})
	require.Len(t, c.Overwrites, 2)
	assert.Equal(t, snapshot.SubjectRole, c.Overwrites[0].Kind)
	assert.Equal(t, snapshot.SubjectMember, c.Overwrites[1].Kind)
	assert.Equal(t, int64(2048), c.Overwrites[1].Deny)
}

func TestAuditEntry(t *testing.T) {
	key := discordgo.AuditLogChangeKey("mute")
	e := auditEntry(&discordgo.AuditLogEntry{
		ID:       "175928847299117063",
		UserID:   "exec",
		TargetID: "target",
		Changes:  []*discordgo.AuditLogChange{{Key: &key}, nil},
	})
	assert.Equal(t, "exec", e.ExecutorID)
	assert.Equal(t, "target", e.TargetID)
	assert.Equal(t, []string{"mute"}, e.ChangeKeys)
	assert.True(t, e.At.Equal(time.UnixMilli(1462015105796)))
}

func TestInbound_ChannelMentions(t *testing.T) {
	in := inbound(&discordgo.Message{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		Author:    &discordgo.User{ID: "u1"},
		Content:   "!log <#123> text <#456>",
	})
	assert.Equal(t, []string{"123", "456"}, in.MentionedChannels)
	assert.Equal(t, "u1", in.AuthorID)
}

func TestEmbed(t *testing.T) {
	e := embed(transport.Payload{
		Title:     "T",
		Color:     0x3498db,
		Fields:    []transport.Field{{Name: "Przez", Value: "<@1>", Inline: true}},
		Footer:    "straznik",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "2024-03-01T12:00:00.000Z", e.Timestamp)
	require.NotNil(t, e.Footer)
	assert.Equal(t, "straznik", e.Footer.Text)
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)

	assert.Nil(t, embed(transport.Payload{Title: "x"}).Footer)
}

func TestTextCapable(t *testing.T) {
	assert.True(t, textCapable(discordgo.ChannelTypeGuildText))
	assert.True(t, textCapable(discordgo.ChannelTypeGuildPublicThread))
	assert.False(t, textCapable(discordgo.ChannelTypeGuildCategory))
	assert.False(t, textCapable(discordgo.ChannelTypeGuildForum))
}

func TestRolesGrantAdmin(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "g1", Permissions: 0},
		{ID: "mod", Permissions: discordgo.PermissionManageMessages},
		{ID: "admin", Permissions: discordgo.PermissionAdministrator},
	}
	assert.False(t, rolesGrantAdmin(roles, "g1", []string{"mod"}))
	assert.True(t, rolesGrantAdmin(roles, "g1", []string{"mod", "admin"}))

	roles[0].Permissions = discordgo.PermissionAdministrator
	assert.True(t, rolesGrantAdmin(roles, "g1", nil))
}
