package am

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// backupCount is how many rotated copies (.back1 .. .back3) are kept
const backupCount = 3

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	oldest := configPath + ".back" + strconv.Itoa(backupCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "file", oldest, "error", err)
	}

	for i := backupCount - 1; i >= 1; i-- {
		from := configPath + ".back" + strconv.Itoa(i)
		to := configPath + ".back" + strconv.Itoa(i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", filepath.Base(from))
			}
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(configPath+".back1", content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// Set parses raw according to the type of key's default and writes it to the
// user config file, creating the file if needed.
func Set(key, raw string) error {
	return SetInFile(UserConfigPath(), key, raw)
}

// SetInFile is Set against an explicit file
func SetInFile(configPath, key, raw string) error {
	if configPath == "" {
		return errors.New("could not determine home directory")
	}

	defaults := viper.New()
	SetDefaults(defaults)
	if _, section := defaults.Get(key).(map[string]interface{}); !defaults.IsSet(key) || section {
		return errors.WithHint(errors.Newf("unknown configuration key %q", key), "run `reqsync am show` to list keys")
	}

	value, err := parseValue(defaults.Get(key), raw)
	if err != nil {
		return errors.Wrapf(err, "invalid value for %s", key)
	}

	config, err := readTOMLMap(configPath)
	if err != nil {
		return err
	}
	setNested(config, strings.Split(key, "."), value)

	// Validate the result before touching the file
	check := viper.New()
	SetDefaults(check)
	if err := check.MergeConfigMap(config); err != nil {
		return errors.Wrap(err, "merge config")
	}
	cfg, err := LoadWithViper(check)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return writeTOMLMap(configPath, config)
}

func parseValue(current interface{}, raw string) (interface{}, error) {
	switch current.(type) {
	case int:
		return strconv.Atoi(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case []string:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func setNested(m map[string]interface{}, path []string, value interface{}) {
	for _, part := range path[:len(path)-1] {
		next, ok := m[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

func readTOMLMap(configPath string) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

// writeTOMLMap writes config with a backup, marking the write as our own so
// a running watcher does not reload on it
func writeTOMLMap(configPath string, config map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}
