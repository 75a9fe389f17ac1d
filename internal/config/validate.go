package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func knownDriver(drv string) bool {
	switch drv {
	case "", "none", "sqlite", "sqlite3", "file", "postgres", "postgresql", "mysql":
		return true
	}
	return false
}

// Validate checks a parsed config. It reports every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Discord.Token) == "" {
		add(errors.New("discord.token is required"))
	}
	_, err := ParseDurationField("discord.request_timeout", cfg.Discord.RequestTimeout)
	add(err)
	_, err = ParseDurationField("discord.handler_timeout", cfg.Discord.HandlerTimeout)
	add(err)
	if cfg.Discord.HandlerConcurrency < 0 {
		add(errors.New("discord.handler_concurrency must be >= 0"))
	}
	if cfg.Discord.EventQueue < 0 {
		add(errors.New("discord.event_queue must be >= 0"))
	}

	if cfg.Logging.Discord.Enabled && strings.TrimSpace(cfg.Logging.Discord.ChannelID) == "" {
		add(errors.New("logging.discord.channel_id is required when enabled"))
	}

	if s := cfg.Storage; s != nil {
		drv := strings.ToLower(strings.TrimSpace(s.Driver))
		if !knownDriver(drv) {
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if (drv == "postgres" || drv == "postgresql" || drv == "mysql") && strings.TrimSpace(s.DSN) == "" {
			add(fmt.Errorf("storage.dsn is required for %s", drv))
		}
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	_, err = ParseDurationField("attribution.window", cfg.Attribution.Window)
	add(err)

	seen := map[string]bool{}
	for i, r := range cfg.ReactionRoles.Rules {
		if strings.TrimSpace(r.Emoji) == "" || strings.TrimSpace(r.Role) == "" {
			add(fmt.Errorf("reaction_roles.rules[%d]: emoji and role are required", i))
			continue
		}
		if seen[r.Emoji] {
			add(fmt.Errorf("reaction_roles.rules[%d]: duplicate emoji %s", i, r.Emoji))
		}
		seen[r.Emoji] = true
	}
	if a := cfg.ReactionRoles.Agreement; a != nil {
		if a.Emoji == "" || a.MessageTitle == "" || a.Role == "" {
			add(errors.New("reaction_roles.agreement: emoji, message_title and role are required"))
		}
	}

	if m := cfg.Mirror; m != nil && m.Enabled {
		_, err = ParseDurationField("mirror.reconnect_wait", m.ReconnectWait)
		add(err)
	}
	if s := cfg.Stats; s != nil && s.Enabled && strings.TrimSpace(s.Schedule) == "" {
		add(errors.New("stats.schedule is required when enabled"))
	}

	return errors.Join(errs...)
}

// ParseDurationField parses an optional, non-negative duration. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
