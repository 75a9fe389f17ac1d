package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "straznik/pkg/logx"
)

type fakeTrail struct {
	entries []Entry
	err     error
	limits  []int
}

func (f *fakeTrail) QueryAudit(ctx context.Context, serverID string, action Action, limit int) ([]Entry, error) {
	f.limits = append(f.limits, limit)
	return f.entries, f.err
}

func TestResolveWindowBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		age   time.Duration
		known bool
	}{
		{"just inside window", DefaultWindow - time.Millisecond, true},
		{"exactly at window", DefaultWindow, true},
		{"just outside window", DefaultWindow + time.Millisecond, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trail := &fakeTrail{entries: []Entry{{ExecutorID: "mod", TargetID: "m1", At: now.Add(-tc.age)}}}
			r := NewResolver(trail, logx.Nop(), WithClock(func() time.Time { return now }))

			got := r.Resolve(context.Background(), Query{ServerID: "g1", TargetID: "m1", Action: ActionMessageDelete})
			if got.Known != tc.known {
				t.Fatalf("known=%v, want %v", got.Known, tc.known)
			}
			if tc.known && got.ExecutorID != "mod" {
				t.Fatalf("executor=%q", got.ExecutorID)
			}
			if trail.limits[0] != 1 {
				t.Fatalf("message delete lookback=%d, want 1", trail.limits[0])
			}
		})
	}
}

func TestResolveTargetMismatch(t *testing.T) {
	now := time.Now()
	trail := &fakeTrail{entries: []Entry{{ExecutorID: "mod", TargetID: "other", At: now}}}
	r := NewResolver(trail, logx.Nop(), WithClock(func() time.Time { return now }))

	got := r.Resolve(context.Background(), Query{ServerID: "g1", TargetID: "m1", Action: ActionMessageDelete})
	if got.Known {
		t.Fatalf("entry for another target must not be trusted: %+v", got)
	}
}

func TestResolveChangeKeyFilter(t *testing.T) {
	now := time.Now()
	trail := &fakeTrail{entries: []Entry{
		{ExecutorID: "a", TargetID: "u1", At: now, ChangeKeys: []string{"nick"}},
		{ExecutorID: "b", TargetID: "u1", At: now, ChangeKeys: []string{"deaf"}},
		{ExecutorID: "c", TargetID: "u1", At: now, ChangeKeys: []string{"mute"}},
	}}
	r := NewResolver(trail, logx.Nop(), WithClock(func() time.Time { return now }))

	got := r.Resolve(context.Background(), Query{ServerID: "g1", TargetID: "u1", Action: ActionMemberUpdate, ChangeKey: "mute"})
	if got.ExecutorID != "c" || !got.Known {
		t.Fatalf("got %+v, want executor c", got)
	}
	if trail.limits[0] != 5 {
		t.Fatalf("member update lookback=%d, want 5", trail.limits[0])
	}
}

func TestResolveFailureIsUnknown(t *testing.T) {
	trail := &fakeTrail{err: errors.New("missing access")}
	r := NewResolver(trail, logx.Nop())
	got := r.Resolve(context.Background(), Query{ServerID: "g1", TargetID: "c1", Action: ActionChannelUpdate})
	if got.Known {
		t.Fatalf("failed lookup must degrade to unknown")
	}
	if NewResolver(nil, logx.Nop()).Resolve(context.Background(), Query{TargetID: "x"}).Known {
		t.Fatalf("nil trail must yield unknown")
	}
}

func TestSetWindow(t *testing.T) {
	now := time.Now()
	trail := &fakeTrail{entries: []Entry{{ExecutorID: "mod", TargetID: "r1", At: now.Add(-8 * time.Second)}}}
	r := NewResolver(trail, logx.Nop(), WithClock(func() time.Time { return now }))
	q := Query{ServerID: "g1", TargetID: "r1", Action: ActionRoleUpdate}

	if r.Resolve(context.Background(), q).Known {
		t.Fatalf("8s old entry must be outside the default window")
	}
	r.SetWindow(10 * time.Second)
	if !r.Resolve(context.Background(), q).Known {
		t.Fatalf("8s old entry must be inside a 10s window")
	}
	r.SetWindow(0)
	if r.Window() != DefaultWindow {
		t.Fatalf("window=%s, want default", r.Window())
	}
}
