package am

import (
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/spf13/viper"

	"github.com/teranos/locussync/errors"
)

var (
	mu            gosync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file supplied each dotted key during the
	// last load. Keys absent here come from defaults or the environment.
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the configuration once and caches it
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViperLocked())
	if err != nil {
		return nil, err
	}
	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViperLocked()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads defaults plus a single file, without the environment
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

func initViperLocked() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)

	sources := map[string]SourceInfo{}
	mergeConfigFiles(v, sources)
	ConfigSources = sources

	viperInstance = v
	return v
}

// ConfigFile is one level of the cascade.
type ConfigFile struct {
	Source ConfigSource
	Path   string
}

// ConfigFiles returns the cascade, lowest precedence first. Files need not
// exist.
func ConfigFiles() []ConfigFile {
	var files []ConfigFile
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, ConfigFile{SourceUser, UserConfigPath(home)})
	}
	if project := findProjectConfig(); project != "" {
		files = append(files, ConfigFile{SourceProject, project})
	}
	return files
}

// UserConfigPath is ~/.locussync/locussync.toml under home.
func UserConfigPath(home string) string {
	return filepath.Join(home, UserDirName, ConfigFileName)
}

// findProjectConfig searches for locussync.toml by walking up the directory
// tree. Returns the first one found, or "" when there is none.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges existing cascade files into v as config values, so
// environment variables still take precedence over them.
func mergeConfigFiles(v *viper.Viper, sources map[string]SourceInfo) {
	for _, file := range ConfigFiles() {
		if _, err := os.Stat(file.Path); err != nil {
			continue
		}
		tmp := viper.New()
		tmp.SetConfigFile(file.Path)
		tmp.SetConfigType("toml")
		if err := tmp.ReadInConfig(); err != nil {
			continue
		}
		settings := tmp.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		markSettingsFromSource(settings, "", file.Source, file.Path, sources)
	}
}

// markSettingsFromSource records source for every leaf key in settings
func markSettingsFromSource(settings map[string]any, prefix string, source ConfigSource, path string, sources map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			markSettingsFromSource(nested, fullKey, source, path, sources)
			continue
		}
		sources[fullKey] = SourceInfo{Source: source, Path: path}
	}
}

// Get returns a configuration value using dot notation
func Get(key string) any {
	return GetViper().Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}
