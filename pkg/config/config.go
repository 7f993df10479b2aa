package config

import (
	"time"

	"guildlink/internal/repository"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Repo     repository.Config `envPrefix:"REPO_"`
	LogLevel string            `env:"LOGGER_LEVEL" envDefault:"info"`

	DiscordToken   string `env:"DISCORD_TOKEN" envDefault:""`
	DiscordGuildID string `env:"DISCORD_GUILD_ID" envDefault:""`

	Matching  MatchingConfig  `envPrefix:"MATCH_"`
	Integrity IntegrityConfig `envPrefix:"INTEGRITY_"`

	SentryDSN      string `env:"SENTRY_DSN" envDefault:""`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	PushgatewayURL string `env:"PUSHGATEWAY_URL" envDefault:""`
}

type MatchingConfig struct {
	AutoLinkThreshold float64 `env:"AUTO_LINK_THRESHOLD" envDefault:"0.85"`
	SuggestThreshold  float64 `env:"SUGGEST_THRESHOLD" envDefault:"0.70"`
	MaxPasses         int     `env:"MAX_PASSES" envDefault:"5"`
	MinRankLevel      int     `env:"MIN_RANK_LEVEL" envDefault:"0"`
}

type IntegrityConfig struct {
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"720h"`
	// RankRoles maps lowercase guild rank names to the chat role they grant.
	RankRoles map[string]string `env:"RANK_ROLES" envSeparator:"," envKeyValSeparator:":" envDefault:"guild master:Guild Master,officer:Officer,raider:Raider,member:Member,alt:Member"`
}

func ReadEnvConfig(cfg *Config) error {
	return env.Parse(cfg)
}
