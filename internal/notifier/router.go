package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"straznik/internal/eventbus"
	"straznik/internal/fault"
	"straznik/internal/storage"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

const historyMax = 300

// ConfigReader is the read side of the routing store.
type ConfigReader interface {
	Get(ctx context.Context, serverID string) (storage.RoutingConfig, bool, error)
}

// Router delivers change records. It is safe for concurrent use.
type Router struct {
	store    ConfigReader
	channels transport.ChannelResolver
	bus      eventbus.Bus
	log      logx.Logger

	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, store ConfigReader, channels transport.ChannelResolver, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		store:    store,
		channels: channels,
		bus:      bus,
		log:      log.With(logx.String("comp", "notifier")),
		limiters: map[string]*rate.Limiter{},
	}
	r.Apply(cfg)
	return r
}

// Apply swaps rendering and pacing settings at runtime.
func (r *Router) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	r.mu.Lock()
	if cfg.RatePerSec != r.cfg.RatePerSec {
		r.limiters = map[string]*rate.Limiter{}
	}
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) SendTextLog(ctx context.Context, rec ChangeRecord) Outcome {
	rec.Category = storage.CategoryText
	return r.Route(ctx, rec)
}

func (r *Router) SendEditLog(ctx context.Context, rec ChangeRecord) Outcome {
	rec.Category = storage.CategoryEdit
	return r.Route(ctx, rec)
}

func (r *Router) SendVoiceLog(ctx context.Context, rec ChangeRecord) Outcome {
	rec.Category = storage.CategoryVoice
	return r.Route(ctx, rec)
}

func (r *Router) SendChangeLog(ctx context.Context, rec ChangeRecord) Outcome {
	rec.Category = storage.CategoryChange
	return r.Route(ctx, rec)
}

// Route delivers rec to the channel configured for its category.
// It never returns an error: every failure is logged and reported as an Outcome.
func (r *Router) Route(ctx context.Context, rec ChangeRecord) Outcome {
	log := r.log.With(
		logx.String("guild_id", rec.ServerID),
		logx.String("category", string(rec.Category)),
		logx.String("title", rec.Title),
	)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if r.store == nil {
		return r.finish(rec, "", Dropped, ReasonNotRouted, nil)
	}
	cfg, _, err := r.store.Get(ctx, rec.ServerID)
	if err != nil {
		log.Warn("routing config unavailable", logx.Err(err))
		return r.finish(rec, "", Dropped, ReasonStoreError, err)
	}
	channelID := cfg.Channel(rec.Category)
	if channelID == "" && rec.Fallback != "" {
		channelID = cfg.Channel(rec.Fallback)
	}
	if channelID == "" {
		log.Debug("category not routed")
		return r.finish(rec, "", Dropped, ReasonNotRouted, nil)
	}

	if r.channels == nil {
		return r.finish(rec, channelID, Dropped, ReasonNoResolver, nil)
	}
	dest, err := r.channels.ResolveChannel(ctx, rec.ServerID, channelID)
	if err != nil {
		err = fault.Classify("resolve channel", err)
		fault.Log(log, "resolve channel", err, logx.String("channel_id", channelID))
		if errors.Is(err, fault.ErrNotFound) {
			return r.finish(rec, channelID, Dropped, ReasonNoChannel, err)
		}
		return r.finish(rec, channelID, Dropped, ReasonUnresolved, err)
	}
	if dest == nil || dest.ServerID() != rec.ServerID {
		log.Debug("channel not in server", logx.String("channel_id", channelID))
		return r.finish(rec, channelID, Dropped, ReasonNoChannel, nil)
	}
	if !dest.TextCapable() {
		log.Debug("channel cannot take messages", logx.String("channel_id", channelID))
		return r.finish(rec, channelID, Dropped, ReasonNotText, nil)
	}

	if err := r.limiter(channelID).Wait(ctx); err != nil {
		log.Warn("send paced out", logx.String("channel_id", channelID), logx.Err(err))
		return r.finish(rec, channelID, Failed, "", err)
	}
	if err := dest.Send(ctx, r.Render(rec)); err != nil {
		fault.Log(log, "send record", fault.Classify("send record", err), logx.String("channel_id", channelID))
		return r.finish(rec, channelID, Failed, "", err)
	}
	log.Debug("record delivered", logx.String("channel_id", channelID))
	return r.finish(rec, channelID, Delivered, "", nil)
}

// Render builds the embed payload for rec.
func (r *Router) Render(rec ChangeRecord) transport.Payload {
	r.mu.Lock()
	footer := r.cfg.Footer
	r.mu.Unlock()
	return transport.Payload{
		Title:       rec.Title,
		Description: rec.Description,
		Color:       rec.Color,
		Fields:      append([]transport.Field(nil), rec.Fields...),
		Footer:      footer,
		Timestamp:   rec.Timestamp,
	}
}

func (r *Router) limiter(channelID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.limiters[channelID]
	if l == nil {
		l = rate.NewLimiter(rate.Limit(r.cfg.RatePerSec), r.cfg.RatePerSec)
		r.limiters[channelID] = l
	}
	return l
}

func (r *Router) finish(rec ChangeRecord, channelID string, o Outcome, reason string, err error) Outcome {
	now := time.Now()
	r.appendHistory(HistoryItem{At: now, ServerID: rec.ServerID, Category: rec.Category, Title: rec.Title, Outcome: o, Reason: reason})

	if r.bus != nil {
		ev := RouteEvent{
			ServerID:  rec.ServerID,
			Category:  rec.Category,
			ChannelID: channelID,
			Title:     rec.Title,
			Outcome:   o.String(),
			Reason:    reason,
			At:        now,
			Record:    rec,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		typ := eventbus.TypeDelivered
		switch o {
		case Dropped:
			typ = eventbus.TypeDropped
		case Failed:
			typ = eventbus.TypeFailed
		}
		r.bus.Publish(eventbus.Event{Type: typ, ServerID: rec.ServerID, Time: now, Data: ev})
	}
	return o
}

// History returns recent outcomes, oldest first.
func (r *Router) History() []HistoryItem {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	return append([]HistoryItem(nil), r.history...)
}

func (r *Router) appendHistory(it HistoryItem) {
	r.hmu.Lock()
	defer r.hmu.Unlock()
	r.history = append(r.history, it)
	if len(r.history) > historyMax {
		r.history = r.history[len(r.history)-historyMax:]
	}
}
