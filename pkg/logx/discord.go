package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"straznik/internal/transport"
)

const (
	// discordTextLimit keeps a rendered line inside one 2000 character
	// message once the code fence is added.
	discordTextLimit   = 1900
	discordFieldLimit  = 300
	discordQueueSize   = 256
	discordSendTimeout = 10 * time.Second
)

type discordLine struct {
	channelID string
	text      string
}

// discordSink is a zerolog.LevelWriter that forwards lines to a channel
// through a background worker. Writes never block: lines over the rate or
// beyond a full queue are dropped and counted.
type discordSink struct {
	mu        sync.Mutex
	sender    transport.TextSender
	channelID string
	minLevel  zerolog.Level
	limiter   *rate.Limiter

	queue   chan discordLine
	once    sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func newDiscordSink(sender transport.TextSender) *discordSink {
	return &discordSink{sender: sender, queue: make(chan discordLine, discordQueueSize)}
}

func (d *discordSink) setSender(sender transport.TextSender) {
	d.mu.Lock()
	d.sender = sender
	d.mu.Unlock()
}

// configure applies cfg and reports whether the sink should be attached.
func (d *discordSink) configure(cfg DiscordConfig) bool {
	rps := max(1, cfg.RatePerSec)
	d.mu.Lock()
	d.channelID = strings.TrimSpace(cfg.ChannelID)
	d.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	d.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	channelID := d.channelID
	d.mu.Unlock()

	if !cfg.Enabled {
		return false
	}
	if channelID == "" {
		fmt.Fprintln(os.Stderr, "logx: discord logging enabled but logging.discord.channel_id is not set")
		return false
	}
	d.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(ctx)
		}()
	})
	return true
}

func (d *discordSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-d.queue:
			d.mu.Lock()
			sender := d.sender
			d.mu.Unlock()
			if sender == nil {
				d.dropped.Add(1)
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, discordSendTimeout)
			_ = sender.SendText(sctx, line.channelID, line.text)
			cancel()
		}
	}
}

func (d *discordSink) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		d.wg.Wait()
	}
}

func (d *discordSink) Write(p []byte) (int, error) {
	return d.WriteLevel(zerolog.InfoLevel, p)
}

func (d *discordSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	d.mu.Lock()
	channelID, minLevel, lim := d.channelID, d.minLevel, d.limiter
	d.mu.Unlock()

	if channelID == "" || level < minLevel {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		d.dropped.Add(1)
		return len(p), nil
	}
	text := renderDiscordLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case d.queue <- discordLine{channelID: channelID, text: text}:
	default:
		d.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped counts lines lost to rate limiting or a full queue.
func (d *discordSink) Dropped() uint64 { return d.dropped.Load() }

// renderDiscordLine turns one JSON log line into a code block:
// "[WARN] message" followed by one "key=value" row per field, sorted.
func renderDiscordLine(p []byte) string {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return fence(clip(string(p), discordTextLimit))
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(m[k]), discordFieldLimit))
	}
	return fence(clip(b.String(), discordTextLimit))
}

func fence(s string) string { return "```\n" + s + "\n```" }

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n < 10 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
