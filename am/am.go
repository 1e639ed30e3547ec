// Package am loads locussync configuration ("I am") with viper.
//
// Sources, lowest precedence first: built-in defaults, the user config
// (~/.locussync/locussync.toml), the project config (./locussync.toml,
// searched upward from the working directory) and LOCUSSYNC_* environment
// variables.
package am

// Config represents the locussync configuration
type Config struct {
	Sync    SyncConfig    `mapstructure:"sync" json:"sync" toml:"sync" yaml:"sync"`
	HTTP    HTTPConfig    `mapstructure:"http" json:"http" toml:"http" yaml:"http"`
	Feed    FeedConfig    `mapstructure:"feed" json:"feed" toml:"feed" yaml:"feed"`
	Log     LogConfig     `mapstructure:"log" json:"log" toml:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" toml:"metrics" yaml:"metrics"`
}

// SyncConfig configures the replica
type SyncConfig struct {
	LocusURL string `mapstructure:"locus_url" json:"locus_url" toml:"locus_url" yaml:"locus_url"` // GET returns the initial locus snapshot
	DebugID  string `mapstructure:"debug_id" json:"debug_id" toml:"debug_id" yaml:"debug_id"`     // tags every log line (default: generated)
	// InitialSyncTimeoutSeconds bounds the bootstrap of a locus without embedded elements
	InitialSyncTimeoutSeconds int `mapstructure:"initial_sync_timeout_seconds" json:"initial_sync_timeout_seconds" toml:"initial_sync_timeout_seconds" yaml:"initial_sync_timeout_seconds"`
}

// HTTPConfig configures the transport to the locus service
type HTTPConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds" json:"timeout_seconds" toml:"timeout_seconds" yaml:"timeout_seconds"`
	RetryMax          int      `mapstructure:"retry_max" json:"retry_max" toml:"retry_max" yaml:"retry_max"`
	RetryWaitMinMs    int      `mapstructure:"retry_wait_min_ms" json:"retry_wait_min_ms" toml:"retry_wait_min_ms" yaml:"retry_wait_min_ms"`
	RetryWaitMaxMs    int      `mapstructure:"retry_wait_max_ms" json:"retry_wait_max_ms" toml:"retry_wait_max_ms" yaml:"retry_wait_max_ms"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" json:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int      `mapstructure:"burst" json:"burst" toml:"burst" yaml:"burst"`
	Token             string   `mapstructure:"token" json:"-" toml:"token" yaml:"-"` // bearer token, never printed
	AllowedSchemes    []string `mapstructure:"allowed_schemes" json:"allowed_schemes" toml:"allowed_schemes" yaml:"allowed_schemes"`
	MaxRedirects      int      `mapstructure:"max_redirects" json:"max_redirects" toml:"max_redirects" yaml:"max_redirects"`
	AllowPrivate      bool     `mapstructure:"allow_private" json:"allow_private" toml:"allow_private" yaml:"allow_private"` // permit loopback and private addresses
}

// FeedConfig configures the websocket message feed
type FeedConfig struct {
	URL            string `mapstructure:"url" json:"url" toml:"url" yaml:"url"` // empty = no feed, timers only
	ReconnectMinMs int    `mapstructure:"reconnect_min_ms" json:"reconnect_min_ms" toml:"reconnect_min_ms" yaml:"reconnect_min_ms"`
	ReconnectMaxMs int    `mapstructure:"reconnect_max_ms" json:"reconnect_max_ms" toml:"reconnect_max_ms" yaml:"reconnect_max_ms"`
	ReadLimitBytes int64  `mapstructure:"read_limit_bytes" json:"read_limit_bytes" toml:"read_limit_bytes" yaml:"read_limit_bytes"`
}

// LogConfig configures the global logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" json:"json" toml:"json" yaml:"json"`
	Level string `mapstructure:"level" json:"level" toml:"level" yaml:"level"` // debug, info, warn, error
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" json:"addr" toml:"addr" yaml:"addr"` // empty = disabled
}

// Config file names and locations
const (
	ConfigFileName = "locussync.toml"
	UserDirName    = ".locussync"
	EnvPrefix      = "LOCUSSYNC"
)

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
