package am

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/reqsync/reqsync.toml
	SourceUser        ConfigSource = "user"        // ~/.reqsync/reqsync.toml
	SourceProject     ConfigSource = "project"     // reqsync.toml found walking up
	SourceEnvironment ConfigSource = "environment" // REQSYNC_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo is one effective setting and its origin
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

var (
	sourcesMu     sync.Mutex
	configSources = map[string]SourceInfo{}
)

func recordSource(key string, info SourceInfo) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	configSources[key] = info
}

func resetSources() {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	configSources = map[string]SourceInfo{}
}

// Settings returns every effective setting, sorted by key, with its source
func Settings() []SettingInfo {
	v := GetViper()

	sourcesMu.Lock()
	defer sourcesMu.Unlock()

	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := configSources[key]; ok {
			info = si
		}

		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if _, ok := os.LookupEnv(envKey); ok {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		value := v.Get(key)
		if key == "database.dsn" && value != "" {
			value = "********"
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings
}
