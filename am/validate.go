package am

import (
	"net/url"
	"slices"

	"github.com/teranos/locussync/errors"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Sync.LocusURL != "" {
		if err := validateURL("sync.locus_url", c.Sync.LocusURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Sync.InitialSyncTimeoutSeconds < 0 {
		return errors.Newf("sync.initial_sync_timeout_seconds must be >= 0, got %d", c.Sync.InitialSyncTimeoutSeconds)
	}

	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.Newf("http.timeout_seconds must be > 0, got %d", c.HTTP.TimeoutSeconds)
	}
	// retry_max: 0 = no retries, negative = invalid
	if c.HTTP.RetryMax < 0 {
		return errors.Newf("http.retry_max must be >= 0, got %d", c.HTTP.RetryMax)
	}
	if c.HTTP.RetryWaitMinMs < 0 || c.HTTP.RetryWaitMaxMs < 0 {
		return errors.New("http.retry_wait_min_ms and http.retry_wait_max_ms must be >= 0")
	}
	if c.HTTP.RetryWaitMaxMs < c.HTTP.RetryWaitMinMs {
		return errors.Newf("http.retry_wait_max_ms (%d) must be >= http.retry_wait_min_ms (%d)",
			c.HTTP.RetryWaitMaxMs, c.HTTP.RetryWaitMinMs)
	}
	// requests_per_second: 0 = unlimited
	if c.HTTP.RequestsPerSecond < 0 {
		return errors.Newf("http.requests_per_second must be >= 0, got %f", c.HTTP.RequestsPerSecond)
	}
	if c.HTTP.RequestsPerSecond > 0 && c.HTTP.Burst < 1 {
		return errors.Newf("http.burst must be >= 1 when rate limited, got %d", c.HTTP.Burst)
	}
	for _, scheme := range c.HTTP.AllowedSchemes {
		if scheme != "http" && scheme != "https" {
			return errors.WithHint(
				errors.Newf("http.allowed_schemes: unsupported scheme %q", scheme),
				"only http and https are supported",
			)
		}
	}
	if c.HTTP.MaxRedirects < 0 {
		return errors.Newf("http.max_redirects must be >= 0, got %d", c.HTTP.MaxRedirects)
	}

	if c.Feed.URL != "" {
		if err := validateURL("feed.url", c.Feed.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Feed.ReconnectMinMs < 0 {
		return errors.Newf("feed.reconnect_min_ms must be >= 0, got %d", c.Feed.ReconnectMinMs)
	}
	if c.Feed.ReconnectMaxMs < c.Feed.ReconnectMinMs {
		return errors.Newf("feed.reconnect_max_ms (%d) must be >= feed.reconnect_min_ms (%d)",
			c.Feed.ReconnectMaxMs, c.Feed.ReconnectMinMs)
	}
	if c.Feed.ReadLimitBytes < 0 {
		return errors.Newf("feed.read_limit_bytes must be >= 0, got %d", c.Feed.ReadLimitBytes)
	}

	if c.Log.Level != "" && !slices.Contains(logLevels, c.Log.Level) {
		return errors.WithHintf(
			errors.Newf("log.level: unknown level %q", c.Log.Level),
			"use one of %v", logLevels,
		)
	}

	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid URL", key)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return errors.Newf("%s: scheme %q not allowed (allowed: %v)", key, u.Scheme, schemes)
	}
	if u.Host == "" {
		return errors.Newf("%s: missing host", key)
	}
	return nil
}
