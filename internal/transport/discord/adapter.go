// Package discord connects the bot to the Discord gateway and REST API.
//
// Gateway events are converted into platform-neutral values and handed to
// the registered sinks on supervised goroutines. The REST side implements
// the capability interfaces the rest of the bot depends on.
package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"straznik/internal/reactionrole"
	rtsup "straznik/internal/runtime/supervisor"
	"straznik/internal/snapshot"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

type Config struct {
	Token string
	// RequestTimeout bounds a single REST call.
	RequestTimeout time.Duration
	// HandlerTimeout bounds the processing of one gateway event.
	HandlerTimeout time.Duration
	// HandlerConcurrency caps gateway events processed at once.
	HandlerConcurrency int
	// EventQueue is how many converted events may wait for a handler slot.
	// When it is full new events are dropped so the gateway reader never
	// blocks.
	EventQueue int
	// MessageCache is how many messages per channel the state keeps, so
	// edits and deletes can show the previous content.
	MessageCache int
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.HandlerConcurrency <= 0 {
		c.HandlerConcurrency = 16
	}
	if c.EventQueue <= 0 {
		c.EventQueue = 1024
	}
	if c.MessageCache <= 0 {
		c.MessageCache = 200
	}
	return c
}

// Sinks receive converted gateway events. Nil sinks are skipped.
type Sinks struct {
	Event    func(ctx context.Context, ev snapshot.Event)
	Reaction func(ctx context.Context, r reactionrole.Reaction, added bool)
	Message  func(ctx context.Context, m transport.Inbound)
}

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsMessageContent

type Adapter struct {
	cfg     Config
	log     logx.Logger
	session *discordgo.Session

	sinks atomic.Pointer[Sinks]
	roles *roleCache

	runMu   sync.Mutex
	running bool

	// sup owns event handler goroutines. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor
	// queue feeds the pump that hands events to sup.
	queue   chan job
	dropped atomic.Uint64
}

type job struct {
	name string
	fn   func(ctx context.Context)
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	cfg = cfg.withDefaults()
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s.Identify.Intents = intents
	s.State.MaxMessageCount = cfg.MessageCache
	// Handlers only convert and enqueue, so running them in gateway order
	// keeps the role cache consistent without stalling the reader.
	s.SyncEvents = true

	a := &Adapter{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "discord.adapter")),
		session: s,
		roles:   newRoleCache(),
	}
	a.sinks.Store(&Sinks{})
	a.registerHandlers()
	return a, nil
}

// SetSinks replaces the event consumers. Safe to call while running.
func (a *Adapter) SetSinks(s Sinks) { a.sinks.Store(&s) }

// Supervisor returns the handler supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.startHandlers(ctx)
	a.runMu.Unlock()

	if err := a.session.Open(); err != nil {
		a.runMu.Lock()
		a.sup.Cancel()
		a.sup = nil
		a.queue = nil
		a.running = false
		a.runMu.Unlock()
		return err
	}
	a.log.Info("gateway connected")
	return nil
}

// startHandlers prepares the handler supervisor. Caller holds runMu.
func (a *Adapter) startHandlers(ctx context.Context) {
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// one failing event must not take the adapter down
		rtsup.WithCancelOnError(false),
		rtsup.WithTaskTimeout(a.cfg.HandlerTimeout),
		rtsup.WithConcurrency(a.cfg.HandlerConcurrency),
	)
	a.queue = make(chan job, a.cfg.EventQueue)
	go a.pump(a.sup, a.queue)
}

// pump moves queued events onto the supervisor. It is the only place that
// waits for a free handler slot.
func (a *Adapter) pump(sup *rtsup.Supervisor, queue <-chan job) {
	done := sup.Context().Done()
	for {
		select {
		case <-done:
			return
		case j := <-queue:
			sup.Go0(j.name, j.fn)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Adapter) Dropped() uint64 { return a.dropped.Load() }

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.queue = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}
	a.log.Info("stopping")

	if err := a.session.Close(); err != nil {
		a.log.Warn("gateway close failed", logx.Err(err))
	}
	if sup == nil {
		return nil
	}
	sup.Cancel()

	// Grace window for in-flight handlers.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("discord stopped with handler error", logx.Err(err))
	}
	return nil
}

// dispatch queues fn for the handler supervisor without blocking the
// gateway reader. Events arriving before Start, after Stop or while the
// queue is full are dropped.
func (a *Adapter) dispatch(name string, fn func(ctx context.Context)) {
	a.runMu.Lock()
	queue := a.queue
	running := a.sup != nil
	a.runMu.Unlock()
	if !running {
		a.log.Trace("event dropped, adapter not running", logx.String("event", name))
		return
	}
	select {
	case queue <- job{name: name, fn: fn}:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.log.Warn("event queue full, dropping events",
				logx.String("event", name),
				logx.Uint64("dropped_total", n))
		}
	}
}

func (a *Adapter) emit(kind snapshot.Kind, serverID string, before, after snapshot.Entity) {
	sink := a.sinks.Load().Event
	if sink == nil {
		return
	}
	ev := snapshot.Event{ID: uuid.NewString(), Kind: kind, ServerID: serverID, Before: before, After: after}
	a.dispatch("event."+string(kind), func(ctx context.Context) { sink(ctx, ev) })
}

func (a *Adapter) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.RequestTimeout)
}
