package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hotlib/internal/config/tomlkeys"
	"hotlib/internal/logging"

	"gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables that override settings.
// HOTLIB_WATCH_DEBOUNCE_MS maps to watch.debounce-ms.
const EnvPrefix = "HOTLIB_"

type Settings struct {
	Watch  WatchSettings
	Build  BuildSettings
	Load   LoadSettings
	Log    LogSettings
	Status StatusSettings
}

type WatchSettings struct {
	DebounceMS  int64
	Include     []string
	IgnoreTests bool
	MaxWatches  int64
}

func (s WatchSettings) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

type BuildSettings struct {
	GoBinary       string
	Args           []string
	Env            []string
	OutputDir      string
	TimeoutSeconds int64
	KillSuperseded bool
}

func (s BuildSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type LoadSettings struct {
	Symbols              []string
	BlockUntilFirstBuild bool
}

type LogSettings struct {
	Level  logging.Level
	Format logging.Format
}

type StatusSettings struct {
	Addr string
}

// Load layers the embedded defaults, the file at path, HOTLIB_* environment
// variables and overrides, in that order. A missing file is not an error.
func Load(path string, overrides map[string]any) (Settings, error) {
	return LoadWithEnv(path, os.Environ(), overrides)
}

func LoadWithEnv(path string, environ []string, overrides map[string]any) (Settings, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode defaults: %w", err)
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return Settings{}, err
		}
		for key, value := range fileValues {
			values[key] = value
		}
	}

	for key, value := range EnvOverrides(environ, defaults) {
		values[key] = value
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	settings := Settings{}

	settings.Watch.DebounceMS = intSetting(values, "watch.debounce-ms", intSetting(defaults, "watch.debounce-ms", 0))
	settings.Watch.Include = stringsSetting(values, "watch.include", nil)
	settings.Watch.IgnoreTests = boolSetting(values, "watch.ignore-tests", boolSetting(defaults, "watch.ignore-tests", true))
	settings.Watch.MaxWatches = intSetting(values, "watch.max-watches", 0)
	settings.Build.GoBinary = stringSetting(values, "build.go-binary", "")
	settings.Build.Args = stringsSetting(values, "build.args", nil)
	settings.Build.Env = stringsSetting(values, "build.env", nil)
	settings.Build.OutputDir = stringSetting(values, "build.output-dir", "")
	settings.Build.TimeoutSeconds = intSetting(values, "build.timeout-seconds", 0)
	settings.Build.KillSuperseded = boolSetting(values, "build.kill-superseded", false)
	settings.Load.Symbols = stringsSetting(values, "load.symbols", nil)
	settings.Load.BlockUntilFirstBuild = boolSetting(values, "load.block-until-first-build", boolSetting(defaults, "load.block-until-first-build", true))
	settings.Log.Level = logging.Level(stringSetting(values, "log.level", ""))
	settings.Log.Format = logging.Format(stringSetting(values, "log.format", ""))
	settings.Status.Addr = stringSetting(values, "status.addr", "")

	settings = normalizeSettings(settings, defaults)
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if len(settings.Watch.Include) == 0 {
		settings.Watch.Include = stringsSetting(defaults, "watch.include", nil)
	}
	if settings.Watch.MaxWatches <= 0 {
		settings.Watch.MaxWatches = intSetting(defaults, "watch.max-watches", 0)
	}
	if settings.Build.GoBinary == "" {
		settings.Build.GoBinary = stringSetting(defaults, "build.go-binary", "go")
	}
	if settings.Log.Level == "" {
		settings.Log.Level = logging.Level(stringSetting(defaults, "log.level", "info"))
	}
	if level, ok := logging.ParseLevel(string(settings.Log.Level)); ok {
		settings.Log.Level = level
	}
	if settings.Log.Format == "" {
		settings.Log.Format = logging.Format(stringSetting(defaults, "log.format", "console"))
	}
	if format, ok := logging.ParseFormat(string(settings.Log.Format)); ok {
		settings.Log.Format = format
	}
	return settings
}

func (s Settings) Validate() error {
	if s.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce-ms must not be negative, got %d", s.Watch.DebounceMS)
	}
	if s.Build.TimeoutSeconds < 0 {
		return fmt.Errorf("build.timeout-seconds must not be negative, got %d", s.Build.TimeoutSeconds)
	}
	if _, ok := logging.ParseLevel(string(s.Log.Level)); !ok {
		return fmt.Errorf("unknown log.level %q", s.Log.Level)
	}
	if _, ok := logging.ParseFormat(string(s.Log.Format)); !ok {
		return fmt.Errorf("unknown log.format %q", s.Log.Format)
	}
	for _, entry := range s.Build.Env {
		if !strings.Contains(entry, "=") {
			return fmt.Errorf("build.env entry %q is not KEY=VALUE", entry)
		}
	}
	return nil
}

func readFile(path string) (map[string]any, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml", "":
		store, err := tomlkeys.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return store.Flat(), nil
	case ".yaml", ".yml":
		raw := map[string]any{}
		if err := yaml.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return tomlkeys.FromRaw(raw).Flat(), nil
	case ".json":
		raw := map[string]any{}
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return tomlkeys.FromRaw(raw).Flat(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

// EnvOverrides maps HOTLIB_SECTION_KEY_NAME entries onto section.key-name.
// Only keys present in known are returned.
func EnvOverrides(environ []string, known map[string]any) map[string]any {
	out := map[string]any{}
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		section, rest, ok := strings.Cut(strings.TrimPrefix(name, EnvPrefix), "_")
		if !ok || section == "" || rest == "" {
			continue
		}
		key := tomlkeys.NormalizeKey(section + "." + rest)
		if _, exists := known[key]; !exists {
			continue
		}
		out[key] = value
	}
	return out
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := asInt64(value); ok {
		return parsed
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func stringsSetting(values map[string]any, key string, fallback []string) []string {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := tomlkeys.AsStrings(value); ok {
		return parsed
	}
	return fallback
}

func boolSetting(values map[string]any, key string, fallback bool) bool {
	value, ok := values[tomlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(typed)); err == nil {
			return parsed
		}
	}
	return fallback
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
