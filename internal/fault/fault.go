// Package fault is the shared error taxonomy for event handlers.
//
// Handlers never let a failure escape a single event: they classify it,
// log it once with Log and degrade (drop the record, skip the role, treat
// attribution as unknown).
package fault

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	logx "straznik/pkg/logx"
)

var (
	ErrTransient   = errors.New("transient failure")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("data unavailable")
	ErrMigration   = errors.New("schema migration failed")
)

// Error wraps a cause with the operation that failed and its class.
type Error struct {
	Op    string
	Class error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Class.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Is matches both the class sentinel and the wrapped cause.
func (e *Error) Is(target error) bool { return target == e.Class }

func (e *Error) Unwrap() error { return e.Err }

func Transient(op string, err error) error { return &Error{Op: op, Class: ErrTransient, Err: err} }
func NotFound(op string, err error) error  { return &Error{Op: op, Class: ErrNotFound, Err: err} }

// Migration reports a failed additive column migration.
func Migration(column string, err error) error {
	return &Error{Op: "migrate " + column, Class: ErrMigration, Err: err}
}

// Discord error codes meaning the referenced entity no longer exists.
var notFoundCodes = map[int]struct{}{
	10003: {}, // unknown channel
	10004: {}, // unknown guild
	10007: {}, // unknown member
	10008: {}, // unknown message
	10011: {}, // unknown role
}

// Classify maps a raw REST/storage error into the taxonomy.
// Already classified errors pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if IsNotFound(err) {
		return NotFound(op, err)
	}
	return Transient(op, err)
}

// IsNotFound reports whether err means the referenced entity is gone.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil {
			if _, ok := notFoundCodes[rerr.Message.Code]; ok {
				return true
			}
		}
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return false
}

// Log applies the shared log-and-continue policy: missing entities are
// expected churn and go to debug, everything else to warn.
// Cancellation during shutdown is not logged.
func Log(log logx.Logger, op string, err error, fields ...logx.Field) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	all := append([]logx.Field{logx.String("op", op), logx.Err(err)}, fields...)
	if IsNotFound(err) || errors.Is(err, ErrUnavailable) {
		log.Debug("operation failed", all...)
		return
	}
	log.Warn("operation failed", all...)
}
