package command

import (
	"context"
	"fmt"
	"strings"

	"straznik/internal/eventbus"
	"straznik/internal/fault"
	"straznik/internal/storage"
	"straznik/internal/transport"
)

const (
	replyNotAdmin    = "Tylko administratorzy mogą ustawiać kanał logów."
	replyUsage       = "Podaj kanał oraz typ logów. Np. !log #log-channel text"
	replyInvalid     = "Podaj prawidłowy kanał oraz typ logów (text, edit, voice, change)."
	replyStoreFailed = "Wystąpił błąd podczas ustawiania kanału logów."
	replyDone        = "Kanał logów typu **%s** został ustawiony na <#%s>."
)

// PermissionChecker answers whether a member may administer the server.
type PermissionChecker interface {
	IsAdministrator(ctx context.Context, serverID, channelID, userID string) (bool, error)
}

type ChannelSetter interface {
	SetChannel(ctx context.Context, serverID string, c storage.Category, channelID string) error
}

// RouteChange is published on the bus after a successful `log` command.
type RouteChange struct {
	ServerID  string           `json:"guild_id"`
	Category  storage.Category `json:"category"`
	ChannelID string           `json:"channel_id"`
	By        string           `json:"by"`
}

// LogChannel configures where one log category is delivered:
//
//	!log #channel <text|edit|voice|change>
type LogChannel struct {
	Store    ChannelSetter
	Perms    PermissionChecker
	Channels transport.ChannelResolver
	Replier  transport.Replier
	Bus      eventbus.Bus
}

func (l *LogChannel) Handle(ctx context.Context, req *Request) error {
	msg := req.Msg
	reply := func(text string) error {
		if err := l.Replier.Reply(ctx, msg, text); err != nil {
			return fault.Classify("command.reply", err)
		}
		return nil
	}

	admin, err := l.Perms.IsAdministrator(ctx, msg.ServerID, msg.ChannelID, msg.AuthorID)
	if err != nil {
		fault.Log(req.Logger, "command.permissions", err)
	}
	if !admin {
		return reply(replyNotAdmin)
	}
	if len(req.Args) < 2 {
		return reply(replyUsage)
	}

	channelID := req.Args[0]
	if len(msg.MentionedChannels) > 0 {
		channelID = msg.MentionedChannels[0]
	}
	cat, err := storage.ParseCategory(strings.ToLower(req.Args[1]))
	if err != nil || !l.inServer(ctx, req, channelID) {
		return reply(replyInvalid)
	}

	if err := l.Store.SetChannel(ctx, msg.ServerID, cat, channelID); err != nil {
		fault.Log(req.Logger, "command.set_channel", err)
		return reply(replyStoreFailed)
	}
	if l.Bus != nil {
		l.Bus.Publish(eventbus.Event{
			Type:     eventbus.TypeRouteUpdated,
			ServerID: msg.ServerID,
			Data:     RouteChange{ServerID: msg.ServerID, Category: cat, ChannelID: channelID, By: msg.AuthorID},
		})
	}
	return reply(fmt.Sprintf(replyDone, cat, channelID))
}

// inServer reports whether channelID names a channel of the message's server.
func (l *LogChannel) inServer(ctx context.Context, req *Request, channelID string) bool {
	if channelID == "" || l.Channels == nil {
		return channelID != ""
	}
	ch, err := l.Channels.ResolveChannel(ctx, req.Msg.ServerID, channelID)
	if err != nil {
		fault.Log(req.Logger, "command.resolve_channel", err)
		return false
	}
	return ch.ServerID() == req.Msg.ServerID
}
