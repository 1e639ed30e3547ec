package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Sync defaults
	v.SetDefault("sync.locus_url", "")
	v.SetDefault("sync.debug_id", "")
	v.SetDefault("sync.initial_sync_timeout_seconds", 60)

	// HTTP transport defaults
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.retry_max", 3)
	v.SetDefault("http.retry_wait_min_ms", 500)
	v.SetDefault("http.retry_wait_max_ms", 5000)
	v.SetDefault("http.requests_per_second", 0) // unlimited
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.token", "")
	v.SetDefault("http.allowed_schemes", []string{"http", "https"})
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.allow_private", false)

	// Feed defaults
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.reconnect_min_ms", 1000)
	v.SetDefault("feed.reconnect_max_ms", 60000)
	v.SetDefault("feed.read_limit_bytes", 16<<20)

	// Logging defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "warn")

	// Metrics defaults
	v.SetDefault("metrics.addr", "")
}

// BindSensitiveEnvVars binds secrets to their conventional variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("http.token", EnvPrefix+"_HTTP_TOKEN", "LOCUS_TOKEN")
}
