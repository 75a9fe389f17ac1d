// Package command parses prefixed chat commands and runs their handlers.
package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"straznik/internal/transport"
	logx "straznik/pkg/logx"
)

// Request is one parsed command invocation.
type Request struct {
	Msg     transport.Inbound
	Command string
	// Args are the whitespace separated words after the command.
	Args   []string
	Logger logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Dispatcher struct {
	prefix   string
	log      logx.Logger
	handlers map[string]HandlerFunc
	mw       []Middleware
}

// NewDispatcher builds a dispatcher for commands starting with prefix.
// Handlers run behind panic recovery, a timeout and request logging.
func NewDispatcher(prefix string, timeout time.Duration, log logx.Logger) *Dispatcher {
	if prefix == "" {
		prefix = "!"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "command"))
	return &Dispatcher{
		prefix:   prefix,
		log:      log,
		handlers: make(map[string]HandlerFunc),
		mw:       []Middleware{MWRequestLog(log), MWPanicRecover(log), MWTimeout(timeout)},
	}
}

// Register binds name (without prefix) to h. Names are case-insensitive.
func (d *Dispatcher) Register(name string, h HandlerFunc) {
	d.handlers[strings.ToLower(name)] = Chain(h, d.mw...)
}

// Parse splits a message into command and args. ok is false when the
// message is not a command for this dispatcher.
func (d *Dispatcher) Parse(content string) (cmd string, args []string, ok bool) {
	if !strings.HasPrefix(content, d.prefix) {
		return "", nil, false
	}
	words := strings.Fields(strings.TrimPrefix(content, d.prefix))
	if len(words) == 0 {
		return "", nil, false
	}
	return strings.ToLower(words[0]), words[1:], true
}

// Handle runs the matching handler. Unknown commands and bot authors are
// ignored.
func (d *Dispatcher) Handle(ctx context.Context, msg transport.Inbound) {
	if msg.AuthorBot || msg.ServerID == "" {
		return
	}
	cmd, args, ok := d.Parse(msg.Content)
	if !ok {
		return
	}
	h, found := d.handlers[cmd]
	if !found {
		return
	}
	req := &Request{
		Msg:     msg,
		Command: cmd,
		Args:    args,
		Logger:  d.log.With(logx.String("req_id", uuid.NewString())),
	}
	_ = h(ctx, req)
}
