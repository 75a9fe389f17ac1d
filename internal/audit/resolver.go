// Package audit correlates a change with whoever caused it by querying the
// server's audit trail inside a short time window.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"straznik/internal/fault"
	logx "straznik/pkg/logx"
)

// DefaultWindow is how old a matching audit entry may be and still be trusted.
const DefaultWindow = 5 * time.Second

// Action is an audit trail action type.
type Action int

// Action values as numbered by the gateway.
const (
	ActionChannelCreate Action = 10
	ActionChannelUpdate Action = 11
	ActionChannelDelete Action = 12
	ActionMemberUpdate  Action = 24
	ActionRoleCreate    Action = 30
	ActionRoleUpdate    Action = 31
	ActionRoleDelete    Action = 32
	ActionMessageDelete Action = 72
)

// Lookback returns how many recent entries are scanned for action.
func Lookback(a Action) int {
	if a == ActionMessageDelete {
		return 1
	}
	return 5
}

// Entry is one audit trail record.
type Entry struct {
	ID         string
	ExecutorID string
	TargetID   string
	At         time.Time
	ChangeKeys []string
}

func (e Entry) hasKey(k string) bool {
	for _, c := range e.ChangeKeys {
		if c == k {
			return true
		}
	}
	return false
}

// Trail reads the most recent audit entries of one action, newest first.
type Trail interface {
	QueryAudit(ctx context.Context, serverID string, action Action, limit int) ([]Entry, error)
}

// Query describes the change to attribute. ChangeKey narrows ambiguous
// actions (member update) to entries touching that key.
type Query struct {
	ServerID  string
	TargetID  string
	Action    Action
	ChangeKey string
	// Window overrides the resolver's window when positive.
	Window time.Duration
}

// Attribution is the resolved executor. Known is false when nothing matched.
type Attribution struct {
	ExecutorID string
	Known      bool
}

type Resolver struct {
	trail  Trail
	log    logx.Logger
	now    func() time.Time
	window atomic.Int64 // nanoseconds
}

type Option func(*Resolver)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithWindow(d time.Duration) Option {
	return func(r *Resolver) { r.SetWindow(d) }
}

func NewResolver(trail Trail, log logx.Logger, opts ...Option) *Resolver {
	r := &Resolver{trail: trail, log: log, now: time.Now}
	r.window.Store(int64(DefaultWindow))
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetWindow changes the trust window at runtime. Non-positive values reset it to the default.
func (r *Resolver) SetWindow(d time.Duration) {
	if d <= 0 {
		d = DefaultWindow
	}
	r.window.Store(int64(d))
}

func (r *Resolver) Window() time.Duration { return time.Duration(r.window.Load()) }

// Resolve never fails: lookup errors are logged and yield an unknown executor.
func (r *Resolver) Resolve(ctx context.Context, q Query) Attribution {
	if r == nil || r.trail == nil || q.TargetID == "" {
		return Attribution{}
	}
	window := q.Window
	if window <= 0 {
		window = r.Window()
	}

	entries, err := r.trail.QueryAudit(ctx, q.ServerID, q.Action, Lookback(q.Action))
	if err != nil {
		fault.Log(r.log, "audit.query", fault.Classify("audit.query", err),
			logx.String("guild_id", q.ServerID), logx.Int("action", int(q.Action)))
		return Attribution{}
	}

	for _, e := range entries {
		if e.TargetID != q.TargetID {
			continue
		}
		if q.ChangeKey != "" && !e.hasKey(q.ChangeKey) {
			continue
		}
		// Only the newest matching entry counts.
		if r.now().Sub(e.At) > window {
			return Attribution{}
		}
		return Attribution{ExecutorID: e.ExecutorID, Known: e.ExecutorID != ""}
	}
	return Attribution{}
}
