// Package mirror republishes every change record to NATS so other systems
// can consume the server's change history.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"straznik/internal/eventbus"
	"straznik/internal/notifier"
	"straznik/internal/storage"
	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

type Config struct {
	Enabled       bool
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher is the part of a NATS connection the mirror uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the wire form of a change record.
type Message struct {
	ServerID    string            `json:"guild_id"`
	Category    storage.Category  `json:"category"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color"`
	Fields      []transport.Field `json:"fields,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func messageOf(rec notifier.ChangeRecord) Message {
	return Message{
		ServerID:    rec.ServerID,
		Category:    rec.Category,
		Title:       rec.Title,
		Description: rec.Description,
		Color:       rec.Color,
		Fields:      rec.Fields,
		Timestamp:   rec.Timestamp.UTC(),
	}
}

type Mirror struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	log     logx.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials NATS. It returns (nil, nil) when the mirror is disabled.
func Connect(cfg Config, log logx.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "mirror"))
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name("straznik"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug("nats connection closed")
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info("connected to nats", logx.String("url", cfg.URL))
	m := New(conn, cfg.Subject, log)
	m.conn = conn
	return m, nil
}

// New wraps an existing publisher.
func New(pub Publisher, subject string, log logx.Logger) *Mirror {
	if subject == "" {
		subject = "straznik.records"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mirror{pub: pub, subject: strings.TrimSuffix(subject, "."), log: log}
}

// Subject returns the subject a record is published on:
// <base>.<server>.<category>.
func (m *Mirror) Subject(rec notifier.ChangeRecord) string {
	return m.subject + "." + rec.ServerID + "." + string(rec.Category)
}

func (m *Mirror) Publish(rec notifier.ChangeRecord) error {
	data, err := json.Marshal(messageOf(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := m.pub.Publish(m.Subject(rec), data); err != nil {
		m.failed.Add(1)
		return fmt.Errorf("publish record: %w", err)
	}
	m.published.Add(1)
	return nil
}

// Run mirrors delivered records from bus until ctx is done.
// Dropped and failed records are not mirrored.
func (m *Mirror) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256, eventbus.TypeDelivered)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			re, ok := ev.Data.(notifier.RouteEvent)
			if !ok {
				continue
			}
			rec := re.Record
			if err := m.Publish(rec); err != nil {
				m.log.Warn("record not mirrored", logx.String("guild_id", rec.ServerID), logx.Err(err))
			}
		}
	}
}

// Counts returns published and failed totals.
func (m *Mirror) Counts() (published, failed uint64) {
	return m.published.Load(), m.failed.Load()
}

// Close flushes pending messages and closes the connection.
func (m *Mirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.conn.Close()
	}
}
