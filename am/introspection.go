package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/locussync/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceUser        ConfigSource = "user"        // ~/.locussync/locussync.toml
	SourceProject     ConfigSource = "project"     // ./locussync.toml
	SourceEnvironment ConfigSource = "environment" // LOCUSSYNC_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      any          `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	Files    []ConfigFile  `json:"files"`
	Settings []SettingInfo `json:"settings"`
}

// secretKeys are reported without their value.
var secretKeys = map[string]bool{"http.token": true}

// GetConfigIntrospection returns every effective setting with its source
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	if _, err := Load(); err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}
	v := GetViper()

	mu.Lock()
	sources := ConfigSources
	mu.Unlock()

	intro := &ConfigIntrospection{Files: ConfigFiles()}
	flattenSettingsWithSources(v.AllSettings(), "", intro, sources)
	return intro, nil
}

// flattenSettingsWithSources flattens settings and assigns sources from sourceMap
func flattenSettingsWithSources(settings map[string]any, prefix string, intro *ConfigIntrospection, sourceMap map[string]SourceInfo) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]any); ok {
			flattenSettingsWithSources(nested, fullKey, intro, sourceMap)
			continue
		}

		info := SourceInfo{Source: SourceDefault}
		if si, ok := sourceMap[fullKey]; ok {
			info = si
		}
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(fullKey, ".", "_"))
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}
		if secretKeys[fullKey] && value != "" {
			value = "********"
		}

		intro.Settings = append(intro.Settings, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
}
