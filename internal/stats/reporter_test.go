package stats

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straznik/internal/eventbus"
	"straznik/internal/notifier"
	"straznik/internal/reactionrole"
	rtsup "straznik/internal/runtime/supervisor"
	"straznik/internal/storage"
	logx "straznik/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func TestObserveAndFlush(t *testing.T) {
	sender := &fakeSender{}
	r := New(Config{ChannelID: "OPS"}, eventbus.New(), sender, logx.Nop())
	r.Watch("events", func() rtsup.Counters { return rtsup.Counters{Started: 3, Failed: 1} })

	r.Observe(eventbus.Event{Type: eventbus.TypeDelivered, Data: notifier.RouteEvent{Category: storage.CategoryVoice}})
	r.Observe(eventbus.Event{Type: eventbus.TypeDelivered, Data: notifier.RouteEvent{Category: storage.CategoryVoice}})
	r.Observe(eventbus.Event{Type: eventbus.TypeDropped, Data: notifier.RouteEvent{Reason: notifier.ReasonNotRouted}})
	r.Observe(eventbus.Event{Type: eventbus.TypeFailed})
	r.Observe(eventbus.Event{Type: eventbus.TypeRoleSync, Data: []reactionrole.Result{
		{RoleID: "a", Status: reactionrole.Granted},
		{RoleID: "b", Status: reactionrole.Failed},
		{RoleID: "c", Status: reactionrole.Unchanged},
	}})
	r.Observe(eventbus.Event{Type: eventbus.TypeRouteUpdated})

	s := r.Flush(context.Background())
	assert.Equal(t, uint64(2), s.Delivered["voice"])
	assert.Equal(t, uint64(1), s.Dropped[notifier.ReasonNotRouted])
	assert.Equal(t, uint64(1), s.Failed)
	assert.Equal(t, uint64(1), s.Granted)
	assert.Equal(t, uint64(1), s.RoleFails)
	assert.Equal(t, uint64(1), s.Routes)
	assert.False(t, s.Empty())

	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "delivered: voice=2")
	assert.Contains(t, sender.texts[0], "events: started=3")

	// A new period starts empty and is not posted.
	next := r.Flush(context.Background())
	assert.True(t, next.Empty())
	assert.Len(t, sender.texts, 1)
	assert.Equal(t, next.To, r.Last().To)
}

func TestApply_RejectsBadSchedule(t *testing.T) {
	r := New(Config{}, eventbus.New(), nil, logx.Nop())
	err := r.Apply(Config{Enabled: true, Schedule: "every tuesday"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stats schedule"))

	require.NoError(t, r.Apply(Config{Enabled: true, Schedule: "@every 1h"}))
	require.NoError(t, r.Apply(Config{Enabled: true, Schedule: "0 9 * * *"}))
}

func TestRun_CountsBusEventsAndReschedules(t *testing.T) {
	bus := eventbus.New()
	r := New(Config{Enabled: true, Schedule: "@every 1h"}, bus, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeFailed})
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.cur.Failed > 0 && r.c != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Apply(Config{Enabled: true, Schedule: "@every 2h"}))
	require.NoError(t, r.Apply(Config{Enabled: false}))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
