package app

import (
	"fmt"
	"strings"
	"time"

	"straznik/internal/config"
	"straznik/internal/mirror"
	"straznik/internal/notifier"
	"straznik/internal/reactionrole"
	"straznik/internal/stats"
	"straznik/internal/storage"
	"straznik/internal/transport/discord"
	logx "straznik/pkg/logx"
)

const defaultStorePath = "./logChannels.db"

// mapStorageConfig returns enabled=false when no store is configured. A
// missing storage section selects sqlite at the default path.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	if cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: defaultStorePath, BusyTimeout: time.Second}, true, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./logChannels.json"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultStorePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "mysql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: driver, DSN: dsn}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDiscordConfig(cfg *config.Config) (discord.Config, error) {
	d := cfg.Discord
	req, err := config.ParseDurationField("discord.request_timeout", d.RequestTimeout)
	if err != nil {
		return discord.Config{}, err
	}
	hnd, err := config.ParseDurationField("discord.handler_timeout", d.HandlerTimeout)
	if err != nil {
		return discord.Config{}, err
	}
	return discord.Config{
		Token:              strings.TrimSpace(d.Token),
		RequestTimeout:     req,
		HandlerTimeout:     hnd,
		HandlerConcurrency: d.HandlerConcurrency,
		EventQueue:         d.EventQueue,
		MessageCache:       d.MessageCache,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    l.Discord.Enabled,
			ChannelID:  l.Discord.ChannelID,
			MinLevel:   l.Discord.MinLevel,
			RatePerSec: l.Discord.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Footer:     cfg.Notifier.Footer,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapMirrorConfig(cfg *config.Config) (mirror.Config, error) {
	if cfg.Mirror == nil || !cfg.Mirror.Enabled {
		return mirror.Config{}, nil
	}
	m := cfg.Mirror
	wait, err := config.ParseDurationField("mirror.reconnect_wait", m.ReconnectWait)
	if err != nil {
		return mirror.Config{}, err
	}
	return mirror.Config{
		Enabled:       true,
		URL:           strings.TrimSpace(m.URL),
		Subject:       strings.TrimSpace(m.Subject),
		MaxReconnects: m.MaxReconnects,
		ReconnectWait: wait,
	}, nil
}

func mapStatsConfig(cfg *config.Config) stats.Config {
	if cfg.Stats == nil {
		return stats.Config{}
	}
	s := cfg.Stats
	return stats.Config{
		Enabled:   s.Enabled,
		Schedule:  strings.TrimSpace(s.Schedule),
		Timezone:  strings.TrimSpace(s.Timezone),
		ChannelID: strings.TrimSpace(s.ChannelID),
	}
}

func mapRegistry(cfg *config.Config) (*reactionrole.Registry, error) {
	rr := cfg.ReactionRoles
	rules := make([]reactionrole.Rule, 0, len(rr.Rules))
	for _, r := range rr.Rules {
		rules = append(rules, reactionrole.Rule{
			EmojiID: strings.TrimSpace(r.Emoji),
			RoleID:  strings.TrimSpace(r.Role),
		})
	}
	var agreement *reactionrole.Agreement
	if a := rr.Agreement; a != nil {
		agreement = &reactionrole.Agreement{
			EmojiName:    a.Emoji,
			MessageTitle: a.MessageTitle,
			RoleID:       strings.TrimSpace(a.Role),
		}
	}
	return reactionrole.NewRegistry(rules, agreement)
}

func attributionWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("attribution.window", cfg.Attribution.Window, 0)
}
