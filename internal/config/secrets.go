package config

import "maps"

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Venues = make([]VenueConfig, len(cfg.Venues))
	for i, v := range cfg.Venues {
		redact(&v.APIKey)
		redact(&v.APISecret)
		redact(&v.SecretPassword)
		v.Balances = maps.Clone(v.Balances)
		out.Venues[i] = v
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy reference fields so callers cannot mutate the original through the
	// redacted copy.
	out.Scanner.Pairs = append([]string(nil), cfg.Scanner.Pairs...)
	out.Scanner.TakerFees = maps.Clone(cfg.Scanner.TakerFees)
	out.Risk.MaxExposure = maps.Clone(cfg.Risk.MaxExposure)
	out.Risk.RateLimits = append([]RateLimitConfig(nil), cfg.Risk.RateLimits...)
	out.Risk.MinOrders = append([]MinOrderConfig(nil), cfg.Risk.MinOrders...)
	out.Executor.VenueTimeouts = maps.Clone(cfg.Executor.VenueTimeouts)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
