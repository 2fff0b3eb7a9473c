package config

import (
	"maps"
	"slices"
)

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Price.APIKey)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy reference types so the redacted copy cannot reach the original.
	out.Trading.TargetTokens = slices.Clone(cfg.Trading.TargetTokens)
	out.Trading.Pairs = slices.Clone(cfg.Trading.Pairs)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Price.Mints = maps.Clone(cfg.Price.Mints)
	out.Price.Static = maps.Clone(cfg.Price.Static)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
