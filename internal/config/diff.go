package config

import (
	"reflect"
	"sort"
	"strings"

	logx "straznik/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Tokens and DSNs are never
// included, only whether they are set.
//
// restart lists changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed = make([]string, 0, 8)
	attrs = make([]logx.Field, 0, 20)

	od, nd := oldCfg.Discord, newCfg.Discord
	tokenChanged := od.Token != nd.Token
	od.Token, nd.Token = "", ""
	if tokenChanged || od != nd {
		changed = append(changed, "discord")
		restart = append(restart, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", tokenChanged),
			logx.String("discord.prefix", nd.Prefix),
			logx.String("discord.request_timeout", strings.TrimSpace(nd.RequestTimeout)),
			logx.Int("discord.handler_concurrency", nd.HandlerConcurrency),
			logx.Int("discord.event_queue", nd.EventQueue),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.footer", newCfg.Notifier.Footer),
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
		)
	}

	if oldCfg.Attribution != newCfg.Attribution {
		changed = append(changed, "attribution")
		attrs = append(attrs, logx.String("attribution.window", strings.TrimSpace(newCfg.Attribution.Window)))
	}

	if !reflect.DeepEqual(oldCfg.ReactionRoles, newCfg.ReactionRoles) {
		changed = append(changed, "reaction_roles")
		restart = append(restart, "reaction_roles")
		attrs = append(attrs,
			logx.Int("reaction_roles.rules", len(newCfg.ReactionRoles.Rules)),
			logx.Bool("reaction_roles.agreement", newCfg.ReactionRoles.Agreement != nil),
		)
	}

	var oM, nM MirrorConfig
	if oldCfg.Mirror != nil {
		oM = *oldCfg.Mirror
	}
	if newCfg.Mirror != nil {
		nM = *newCfg.Mirror
	}
	if oM != nM {
		changed = append(changed, "mirror")
		restart = append(restart, "mirror")
		attrs = append(attrs,
			logx.Bool("mirror.enabled", nM.Enabled),
			logx.String("mirror.subject", nM.Subject),
		)
	}

	var oSt, nSt StatsConfig
	if oldCfg.Stats != nil {
		oSt = *oldCfg.Stats
	}
	if newCfg.Stats != nil {
		nSt = *newCfg.Stats
	}
	if oSt != nSt {
		changed = append(changed, "stats")
		attrs = append(attrs,
			logx.Bool("stats.enabled", nSt.Enabled),
			logx.String("stats.schedule", nSt.Schedule),
			logx.String("stats.timezone", nSt.Timezone),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
