// Package logx is the bot's logging layer: a zerolog-backed Logger with
// field helpers, plus a Service that owns the outputs (console, JSON file
// and an optional Discord operator channel) and swaps them on config reload.
package logx
