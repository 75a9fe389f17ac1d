// Package stats counts routing and reaction-role outcomes from the event
// bus and reports them on a cron schedule.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"straznik/internal/eventbus"
	"straznik/internal/notifier"
	"straznik/internal/reactionrole"
	rtsup "straznik/internal/runtime/supervisor"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

type Config struct {
	Enabled bool
	// Schedule is a cron expression or descriptor, e.g. "@every 1h" or "0 9 * * *".
	Schedule string
	Timezone string
	// ChannelID receives the summary as a plain message when set.
	ChannelID string
}

// Summary is the counts of one reporting period.
type Summary struct {
	From, To  time.Time
	Delivered map[string]uint64 // by category
	Dropped   map[string]uint64 // by reason
	Failed    uint64
	Granted   uint64
	Revoked   uint64
	RoleFails uint64
	Routes    uint64
	Tasks     map[string]rtsup.Counters
}

func newSummary(from time.Time) Summary {
	return Summary{From: from, Delivered: map[string]uint64{}, Dropped: map[string]uint64{}}
}

// Empty reports whether nothing happened in the period.
func (s Summary) Empty() bool {
	return len(s.Delivered) == 0 && len(s.Dropped) == 0 && s.Failed == 0 &&
		s.Granted == 0 && s.Revoked == 0 && s.RoleFails == 0 && s.Routes == 0
}

// Text renders the summary for the operator channel.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stats %s .. %s\n", s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	fmt.Fprintf(&b, "delivered: %s\n", joinCounts(s.Delivered))
	fmt.Fprintf(&b, "dropped: %s\n", joinCounts(s.Dropped))
	fmt.Fprintf(&b, "failed: %d\n", s.Failed)
	fmt.Fprintf(&b, "roles: +%d -%d (%d failed)\n", s.Granted, s.Revoked, s.RoleFails)
	fmt.Fprintf(&b, "route changes: %d", s.Routes)
	names := make([]string, 0, len(s.Tasks))
	for n := range s.Tasks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := s.Tasks[n]
		fmt.Fprintf(&b, "\n%s: started=%d active=%d failed=%d panicked=%d", n, c.Started, c.Active, c.Failed, c.Panicked)
	}
	return b.String()
}

func joinCounts(m map[string]uint64) string {
	if len(m) == 0 {
		return "0"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

type Reporter struct {
	log    logx.Logger
	bus    eventbus.Bus
	sender transport.TextSender
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	running bool
	cur     Summary
	sources map[string]func() rtsup.Counters
	last    Summary
}

func New(cfg Config, bus eventbus.Bus, sender transport.TextSender, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reporter{
		log:     log.With(logx.String("comp", "stats")),
		bus:     bus,
		sender:  sender,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:     time.Now,
		cfg:     cfg,
		sources: map[string]func() rtsup.Counters{},
	}
	r.cur = newSummary(r.now())
	return r
}

// Watch adds a supervisor whose counters are included in every report.
func (r *Reporter) Watch(name string, counters func() rtsup.Counters) {
	r.mu.Lock()
	r.sources[name] = counters
	r.mu.Unlock()
}

// Validate checks a schedule without applying it.
func (r *Reporter) Validate(schedule string) error {
	if _, err := r.parser.Parse(schedule); err != nil {
		return fmt.Errorf("stats schedule %q: %w", schedule, err)
	}
	return nil
}

// Run consumes bus events and triggers reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ch, unsubscribe := r.bus.Subscribe(512, "notifier.", eventbus.TypeRoleSync, eventbus.TypeRouteUpdated)
	defer unsubscribe()

	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	if err := r.reschedule(); err != nil {
		return err
	}
	defer r.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.Observe(ev)
		}
	}
}

// Apply swaps the config and reschedules a running reporter.
func (r *Reporter) Apply(cfg Config) error {
	if cfg.Enabled {
		if err := r.Validate(cfg.Schedule); err != nil {
			return err
		}
	}
	r.mu.Lock()
	changed := r.cfg != cfg
	r.cfg = cfg
	running := r.running
	r.mu.Unlock()
	if !running || !changed {
		return nil
	}
	return r.reschedule()
}

// reschedule replaces the cron instance. The old one is stopped without
// holding mu, since its job takes mu.
func (r *Reporter) reschedule() error {
	r.mu.Lock()
	old := r.c
	r.c = nil
	cfg := r.cfg
	r.mu.Unlock()
	if old != nil {
		<-old.Stop().Done()
	}
	if !cfg.Enabled {
		r.log.Debug("stats reporting disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			r.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.Schedule, func() { r.Flush(context.Background()) }); err != nil {
		return fmt.Errorf("stats schedule %q: %w", cfg.Schedule, err)
	}
	r.mu.Lock()
	r.c = c
	r.mu.Unlock()
	c.Start()
	r.log.Info("stats reporting scheduled", logx.String("schedule", cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (r *Reporter) stop() {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.running = false
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Observe folds one bus event into the current period.
func (r *Reporter) Observe(ev eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Type {
	case eventbus.TypeDelivered:
		if re, ok := ev.Data.(notifier.RouteEvent); ok {
			r.cur.Delivered[string(re.Category)]++
		}
	case eventbus.TypeDropped:
		if re, ok := ev.Data.(notifier.RouteEvent); ok {
			r.cur.Dropped[re.Reason]++
		}
	case eventbus.TypeFailed:
		r.cur.Failed++
	case eventbus.TypeRoleSync:
		results, _ := ev.Data.([]reactionrole.Result)
		for _, res := range results {
			switch res.Status {
			case reactionrole.Granted:
				r.cur.Granted++
			case reactionrole.Revoked:
				r.cur.Revoked++
			case reactionrole.Failed:
				r.cur.RoleFails++
			}
		}
	case eventbus.TypeRouteUpdated:
		r.cur.Routes++
	}
}

// Flush closes the current period, logs it and posts it to the configured
// channel. Empty periods are only logged at debug.
func (r *Reporter) Flush(ctx context.Context) Summary {
	r.mu.Lock()
	s := r.cur
	s.To = r.now()
	s.Tasks = make(map[string]rtsup.Counters, len(r.sources))
	for name, fn := range r.sources {
		s.Tasks[name] = fn()
	}
	r.cur = newSummary(s.To)
	r.last = s
	channelID := r.cfg.ChannelID
	r.mu.Unlock()

	if s.Empty() {
		r.log.Debug("stats: quiet period")
		return s
	}
	r.log.Info("stats",
		logx.Any("delivered", s.Delivered),
		logx.Any("dropped", s.Dropped),
		logx.Uint64("failed", s.Failed),
		logx.Uint64("granted", s.Granted),
		logx.Uint64("revoked", s.Revoked),
		logx.Uint64("role_failed", s.RoleFails),
		logx.Uint64("route_changes", s.Routes),
	)
	if channelID != "" && r.sender != nil {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.sender.SendText(sctx, channelID, "```\n"+s.Text()+"\n```"); err != nil {
			r.log.Warn("stats not posted", logx.String("channel_id", channelID), logx.Err(err))
		}
	}
	return s
}

// Last returns the most recently flushed period.
func (r *Reporter) Last() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
