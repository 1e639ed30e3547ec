package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

// isolate points the cascade at empty temp directories.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	Reset()
	t.Cleanup(Reset)

	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(project)
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, 30, cfg.HTTP.TimeoutSeconds)
	assert.Equal(t, 3, cfg.HTTP.RetryMax)
	assert.Equal(t, []string{"http", "https"}, cfg.HTTP.AllowedSchemes)
	assert.Equal(t, 1000, cfg.Feed.ReconnectMinMs)
	assert.Equal(t, int64(16<<20), cfg.Feed.ReadLimitBytes)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Empty(t, cfg.Sync.LocusURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Cascade(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, UserConfigPath(home), `
[sync]
locus_url = "https://user.example/loci/1"

[http]
timeout_seconds = 10
retry_max = 2
`)
	writeFile(t, filepath.Join(project, ConfigFileName), `
[sync]
locus_url = "https://project.example/loci/1"
`)
	t.Setenv("LOCUSSYNC_HTTP_RETRY_MAX", "7")
	t.Setenv("LOCUS_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://project.example/loci/1", cfg.Sync.LocusURL, "project overrides user")
	assert.Equal(t, 10, cfg.HTTP.TimeoutSeconds, "user value survives the project merge")
	assert.Equal(t, 7, cfg.HTTP.RetryMax, "environment overrides files")
	assert.Equal(t, "s3cret", cfg.HTTP.Token)

	assert.Equal(t, SourceProject, ConfigSources["sync.locus_url"].Source)
	assert.Equal(t, SourceUser, ConfigSources["http.timeout_seconds"].Source)
	assert.Contains(t, ConfigSources["http.timeout_seconds"].Path, filepath.Join(UserDirName, ConfigFileName))

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "Load caches")
}

func TestLoad_ProjectConfigSearchesUp(t *testing.T) {
	_, project := isolate(t)
	writeFile(t, filepath.Join(project, ConfigFileName), "[log]\nlevel = \"debug\"\n")

	nested := filepath.Join(project, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, path, `
[feed]
url = "wss://locus.example/feed"
reconnect_max_ms = 5000
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://locus.example/feed", cfg.Feed.URL)
	assert.Equal(t, 5000, cfg.Feed.ReconnectMaxMs)
	assert.Equal(t, 1000, cfg.Feed.ReconnectMinMs, "defaults fill the rest")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero retries is valid", mutate: func(c *Config) { c.HTTP.RetryMax = 0 }},
		{name: "negative retries", mutate: func(c *Config) { c.HTTP.RetryMax = -1 }, wantErr: "http.retry_max"},
		{name: "zero timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, wantErr: "http.timeout_seconds"},
		{name: "inverted retry waits", mutate: func(c *Config) { c.HTTP.RetryWaitMaxMs = 1 }, wantErr: "retry_wait_max_ms"},
		{name: "negative rate", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = -1 }, wantErr: "requests_per_second"},
		{name: "rate without burst", mutate: func(c *Config) { c.HTTP.RequestsPerSecond = 5; c.HTTP.Burst = 0 }, wantErr: "http.burst"},
		{name: "ftp scheme", mutate: func(c *Config) { c.HTTP.AllowedSchemes = []string{"ftp"} }, wantErr: "allowed_schemes"},
		{name: "locus over ws", mutate: func(c *Config) { c.Sync.LocusURL = "ws://locus.example" }, wantErr: "sync.locus_url"},
		{name: "locus without host", mutate: func(c *Config) { c.Sync.LocusURL = "https://" }, wantErr: "missing host"},
		{name: "feed over http", mutate: func(c *Config) { c.Feed.URL = "https://locus.example/feed" }, wantErr: "feed.url"},
		{name: "feed over wss", mutate: func(c *Config) { c.Feed.URL = "wss://locus.example/feed" }},
		{name: "inverted reconnect", mutate: func(c *Config) { c.Feed.ReconnectMaxMs = 10 }, wantErr: "reconnect_max_ms"},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ConfigFileName)

	cfg := defaultConfig(t)
	cfg.Sync.LocusURL = "https://locus.example/loci/1"
	require.NoError(t, WriteConfig(path, cfg))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	for i := 0; i < 4; i++ {
		cfg.HTTP.RetryMax = i
		require.NoError(t, WriteConfig(path, cfg))
	}
	for _, suffix := range []string{".back1", ".back2", ".back3"} {
		assert.FileExists(t, path+suffix)
	}
	assert.NoFileExists(t, path+".back4")

	back1, err := LoadFromFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, 2, back1.HTTP.RetryMax, "back1 holds the previous write")
}

func TestGetConfigIntrospection(t *testing.T) {
	home, _ := isolate(t)
	writeFile(t, UserConfigPath(home), "[http]\ntoken = \"s3cret\"\n")
	t.Setenv("LOCUSSYNC_LOG_LEVEL", "info")

	intro, err := GetConfigIntrospection()
	require.NoError(t, err)

	byKey := map[string]SettingInfo{}
	for _, s := range intro.Settings {
		byKey[s.Key] = s
	}

	assert.Equal(t, "********", byKey["http.token"].Value)
	assert.Equal(t, SourceUser, byKey["http.token"].Source)
	assert.Equal(t, SourceEnvironment, byKey["log.level"].Source)
	assert.Equal(t, "LOCUSSYNC_LOG_LEVEL", byKey["log.level"].SourcePath)
	assert.Equal(t, SourceDefault, byKey["http.retry_max"].Source)

	require.NotEmpty(t, intro.Files)
	assert.Equal(t, SourceUser, intro.Files[0].Source)
}

func TestConfigWatcher_Reloads(t *testing.T) {
	home, _ := isolate(t)
	path := UserConfigPath(home)
	writeFile(t, path, "[http]\nretry_max = 1\n")

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond
	reloaded := make(chan *Config, 4)
	cw.OnReload(func(cfg *Config) error {
		reloaded <- cfg
		return nil
	})
	cw.Start()
	t.Cleanup(func() { cw.Stop() })

	writeFile(t, path, "[http]\nretry_max = 5\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 5, cfg.HTTP.RetryMax)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/u/.locussync/locussync.toml.back1"))
	assert.True(t, isBackupFile("locussync.toml.back3"))
	assert.False(t, isBackupFile("locussync.toml"))
}
