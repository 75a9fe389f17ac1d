// Package pipeline turns gateway state changes into routed change records:
// normalize, diff, attribute, format, route.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"straznik/internal/audit"
	"straznik/internal/diff"
	"straznik/internal/eventbus"
	"straznik/internal/notifier"
	"straznik/internal/snapshot"
	"straznik/internal/storage"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

// Router delivers finished records.
type Router interface {
	Route(ctx context.Context, rec notifier.ChangeRecord) notifier.Outcome
}

// Attributor resolves who caused a change.
type Attributor interface {
	Resolve(ctx context.Context, q audit.Query) audit.Attribution
}

type Pipeline struct {
	router Router
	attr   Attributor
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New builds a pipeline. attr and bus may be nil.
func New(router Router, attr Attributor, bus eventbus.Bus, log logx.Logger, opts ...Option) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{router: router, attr: attr, bus: bus, log: log.With(logx.String("comp", "pipeline")), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Handle processes one event and returns the outcome of every record it
// produced. No change means no record and an empty result.
func (p *Pipeline) Handle(ctx context.Context, ev snapshot.Event) []notifier.Outcome {
	log := p.log.With(logx.String("event_id", ev.ID), logx.String("kind", string(ev.Kind)))

	pair, err := snapshot.Normalize(ev)
	if err != nil {
		if errors.Is(err, snapshot.ErrNoServer) {
			log.Debug("event outside a server ignored")
		} else {
			log.Warn("event not normalized", logx.Err(err))
		}
		return nil
	}
	log = log.With(logx.String("guild_id", pair.ServerID), logx.String("target_id", pair.TargetID))

	if pair.AuthorBot {
		log.Trace("bot message ignored")
		return nil
	}

	changes := diff.Diff(pair.Before, pair.After)
	if len(changes) == 0 {
		log.Trace("no change")
		return nil
	}

	records := p.format(ctx, pair, changes)
	if len(records) == 0 {
		log.Trace("no reportable change")
		return nil
	}

	outcomes := make([]notifier.Outcome, 0, len(records))
	for _, rec := range records {
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.TypeRecord, ServerID: rec.ServerID, Data: rec})
		}
		if p.router == nil {
			outcomes = append(outcomes, notifier.Dropped)
			continue
		}
		o := p.router.Route(ctx, rec)
		log.Debug("record routed", logx.String("title", rec.Title), logx.String("outcome", o.String()))
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (p *Pipeline) record(pair snapshot.Pair, cat storage.Category, title string, color int) notifier.ChangeRecord {
	return notifier.ChangeRecord{
		ServerID:  pair.ServerID,
		Category:  cat,
		Title:     title,
		Color:     color,
		Timestamp: p.now(),
	}
}

func (p *Pipeline) format(ctx context.Context, pair snapshot.Pair, changes []diff.Change) []notifier.ChangeRecord {
	switch pair.Kind {
	case snapshot.RoleCreated:
		rec := p.record(pair, storage.CategoryChange, "Utworzono rolę", colorCreated)
		rec.Description = fmt.Sprintf("Nowa rola **%s** została utworzona.\nKolor: %s\nUprawnienia: %s",
			pair.After.Scalar(snapshot.AttrName), pair.After.Scalar(snapshot.AttrColor),
			permissionsText(pair.After.Sets[snapshot.AttrPermissions]))
		return p.attributed(ctx, pair, audit.ActionRoleCreate, rec)
	case snapshot.RoleDeleted:
		rec := p.record(pair, storage.CategoryChange, "Usunięto rolę", colorDeleted)
		rec.Description = fmt.Sprintf("Rola **%s** została usunięta.", pair.Before.Scalar(snapshot.AttrName))
		return p.attributed(ctx, pair, audit.ActionRoleDelete, rec)
	case snapshot.RoleUpdated:
		return p.updated(ctx, pair, changes, "Zmiany w roli", audit.ActionRoleUpdate)
	case snapshot.ChannelCreated:
		rec := p.record(pair, storage.CategoryChange, "Utworzono kanał", colorCreated)
		rec.Description = fmt.Sprintf("Kanał **%s** został utworzony.", pair.After.Scalar(snapshot.AttrName))
		return p.attributed(ctx, pair, audit.ActionChannelCreate, rec)
	case snapshot.ChannelDeleted:
		rec := p.record(pair, storage.CategoryChange, "Usunięto kanał", colorDeleted)
		rec.Description = fmt.Sprintf("Kanał **%s** został usunięty.", pair.Before.Scalar(snapshot.AttrName))
		return p.attributed(ctx, pair, audit.ActionChannelDelete, rec)
	case snapshot.ChannelUpdated:
		return p.updated(ctx, pair, changes, "Zmiany w kanale", audit.ActionChannelUpdate)
	case snapshot.MessageDeleted:
		return p.messageDeleted(ctx, pair)
	case snapshot.MessageUpdated:
		return p.messageUpdated(pair, changes)
	case snapshot.VoiceStateChanged:
		return p.voice(ctx, pair)
	}
	return nil
}

func (p *Pipeline) updated(ctx context.Context, pair snapshot.Pair, changes []diff.Change, title string, action audit.Action) []notifier.ChangeRecord {
	lines := changeLines(changes)
	if len(lines) == 0 {
		return nil
	}
	rec := p.record(pair, storage.CategoryChange, title, colorUpdated)
	rec.Description = clip(strings.Join(lines, "\n"), descMaxRunes)
	return p.attributed(ctx, pair, action, rec)
}

// attributed adds who made a role or channel change when the audit trail knows.
func (p *Pipeline) attributed(ctx context.Context, pair snapshot.Pair, action audit.Action, rec notifier.ChangeRecord) []notifier.ChangeRecord {
	if p.attr != nil {
		a := p.attr.Resolve(ctx, audit.Query{ServerID: pair.ServerID, TargetID: pair.TargetID, Action: action})
		if a.Known {
			rec.Fields = append(rec.Fields, field("Przez", userMention(a.ExecutorID), true))
		}
	}
	return []notifier.ChangeRecord{rec}
}

func (p *Pipeline) messageDeleted(ctx context.Context, pair snapshot.Pair) []notifier.ChangeRecord {
	author := pair.Before.Scalar(snapshot.AttrAuthor)
	rec := p.record(pair, storage.CategoryText, "Usunięta wiadomość", colorRed)
	rec.Fields = append(rec.Fields, field("Autor", userMention(author), true))

	// The audit trail targets the message author, not the message.
	if p.attr != nil && author != "" {
		a := p.attr.Resolve(ctx, audit.Query{ServerID: pair.ServerID, TargetID: author, Action: audit.ActionMessageDelete})
		if a.Known {
			rec.Fields = append(rec.Fields, field("Usunięta przez", userMention(a.ExecutorID), true))
		}
	}
	rec.Fields = append(rec.Fields,
		field("Kanał", channelMention(pair.Before.Scalar(snapshot.AttrChannel)), true),
		field("Treść", contentText(pair.Before.Scalar(snapshot.AttrContent)), false),
	)
	return []notifier.ChangeRecord{rec}
}

func (p *Pipeline) messageUpdated(pair snapshot.Pair, changes []diff.Change) []notifier.ChangeRecord {
	contentChanged := false
	for _, c := range changes {
		if c.Section == diff.SectionScalar && c.Attr == snapshot.AttrContent {
			contentChanged = true
		}
	}
	if !contentChanged {
		return nil
	}
	rec := p.record(pair, storage.CategoryEdit, "Edytowana wiadomość", colorEdited)
	rec.Fallback = storage.CategoryText
	rec.Fields = []transport.Field{
		field("Autor", userMention(pair.After.Scalar(snapshot.AttrAuthor)), true),
		field("Kanał", channelMention(pair.After.Scalar(snapshot.AttrChannel)), true),
		field("Stara treść", contentText(pair.Before.Scalar(snapshot.AttrContent)), false),
		field("Nowa treść", contentText(pair.After.Scalar(snapshot.AttrContent)), false),
	}
	return []notifier.ChangeRecord{rec}
}

func (p *Pipeline) voice(ctx context.Context, pair snapshot.Pair) []notifier.ChangeRecord {
	user := userMention(pair.TargetID)
	from := pair.Before.Scalar(snapshot.AttrChannel)
	to := pair.After.Scalar(snapshot.AttrChannel)

	var out []notifier.ChangeRecord
	switch {
	case from == "" && to != "":
		rec := p.record(pair, storage.CategoryVoice, "Dołączenie do kanału", colorGreen)
		rec.Fields = []transport.Field{field("Użytkownik", user, true), field("Kanał", channelMention(to), true)}
		out = append(out, rec)
	case from != "" && to == "":
		rec := p.record(pair, storage.CategoryVoice, "Opuszczenie kanału", colorRed)
		rec.Fields = []transport.Field{field("Użytkownik", user, true), field("Kanał", channelMention(from), true)}
		out = append(out, rec)
	case from != "" && to != "" && from != to:
		rec := p.record(pair, storage.CategoryVoice, "Przeniesienie między kanałami", colorMoved)
		rec.Fields = []transport.Field{
			field("Użytkownik", user, true),
			field("Stary kanał", channelMention(from), true),
			field("Nowy kanał", channelMention(to), true),
		}
		out = append(out, rec)
	}

	flags := []struct {
		key      string
		on, off  string
		attrName string
	}{
		{"mute", "Wyciszenie (mute)", "Odciszenie (mute)", snapshot.AttrMute},
		{"deaf", "Wyciszenie słuchu", "Odciszenie słuchu", snapshot.AttrDeaf},
	}
	for _, f := range flags {
		old, hadOld := pair.Before.Scalars[f.attrName]
		now, hasNow := pair.After.Scalars[f.attrName]
		if !hadOld || !hasNow || old == now {
			continue
		}
		title, color := f.off, colorGreen
		if now == "true" {
			title, color = f.on, colorRed
		}
		executor := textUnknown
		if p.attr != nil {
			a := p.attr.Resolve(ctx, audit.Query{
				ServerID:  pair.ServerID,
				TargetID:  pair.TargetID,
				Action:    audit.ActionMemberUpdate,
				ChangeKey: f.key,
			})
			if a.Known {
				executor = userMention(a.ExecutorID)
			}
		}
		rec := p.record(pair, storage.CategoryVoice, title, color)
		rec.Fields = []transport.Field{field("Użytkownik", user, true), field("Przez", executor, true)}
		out = append(out, rec)
	}
	return out
}
