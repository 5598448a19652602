package config

import (
	"net/url"
	"slices"
	"strings"
)

const redacted = "***"

// urlKeyParams are query parameters RPC providers use to carry credentials.
var urlKeyParams = []string{"api-key", "api_key", "apikey", "token", "key"}

// RedactedConfig returns a copy of cfg that is safe to log or print.
// Credentials become "***". URLs keep their scheme and host so the operator
// can still tell which endpoint is configured.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	for _, s := range credentials(&out) {
		if *s != "" {
			*s = redacted
		}
	}
	out.Database.DSN = redactDSN(out.Database.DSN)
	out.Ledger.RPCURL = redactURL(out.Ledger.RPCURL)
	out.Oracle.BaseURL = redactURL(out.Oracle.BaseURL)
	if strings.Contains(out.Redis.Addr, "://") {
		out.Redis.Addr = redactURL(out.Redis.Addr)
	}
	return out
}

// credentials lists the fields that are secret in their entirety.
func credentials(c *Config) []*string {
	return []*string{
		&c.Ledger.AuthorityPrivateKey,
		&c.Ledger.KeyPassword,
		&c.Oracle.APIKey,
		&c.Database.Password,
		&c.Redis.Password,
		&c.S3.AccessKey,
		&c.S3.SecretKey,
		&c.Server.APIKey,
		&c.Notify.TelegramToken,
		// The webhook token is part of the path.
		&c.Notify.DiscordWebhookURL,
	}
}

// redactURL masks userinfo passwords and credential query parameters.
// Unparseable input is masked whole.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if slices.Contains(urlKeyParams, strings.ToLower(name)) {
				q.Set(name, redacted)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// redactDSN handles both postgres:// URLs and key=value connection strings.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		return redactURL(dsn)
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
			fields[i] = k + "=" + redacted
		}
	}
	return strings.Join(fields, " ")
}
