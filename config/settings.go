// Package config provides application settings loaded from a YAML file and
// environment variables.
//
// Settings are created via Load() which handles:
// - Default value application
// - Optional YAML file with ${VAR} expansion
// - Environment variable overrides with validation
// - Provider API key lookup

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/security"
	"github.com/richinex/relay/storage"
)

// Settings holds all application configuration.
type Settings struct {
	Models    ModelsConfig    `yaml:"models"`
	Security  SecurityConfig  `yaml:"security"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Log       LogConfig       `yaml:"log"`
}

// ModelsConfig selects the default model and the streaming fallback order.
type ModelsConfig struct {
	Default        string   `yaml:"default"`
	Fallback       []string `yaml:"fallback"`
	DocumentsRatio float64  `yaml:"documentsRatio"`
}

// SecurityConfig holds content filter limits.
type SecurityConfig struct {
	MaxLength       int    `yaml:"maxLength"`
	MaxMessages     int    `yaml:"maxMessages"`
	RedactionMarker string `yaml:"redactionMarker"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// RetentionConfig sets how long retention records live.
type RetentionConfig struct {
	Default     time.Duration `yaml:"default"`
	ChatHistory time.Duration `yaml:"chatHistory"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig holds execution engine settings.
type EngineConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"systemPrompt"`
	StreamBuffer int    `yaml:"streamBuffer"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns settings with every field at its default value.
func Defaults() Settings {
	resolver := llm.DefaultResolverConfig()
	filter := security.DefaultOptions()
	policy := storage.DefaultRetentionPolicy()
	return Settings{
		Models: ModelsConfig{
			Default:        resolver.DefaultModel,
			Fallback:       resolver.FallbackOrder,
			DocumentsRatio: resolver.DocumentsRatio,
		},
		Security: SecurityConfig{
			MaxLength:       filter.MaxLength,
			MaxMessages:     filter.MaxMessages,
			RedactionMarker: filter.RedactionMarker,
		},
		Storage:   StorageConfig{Driver: "sqlite", Path: "relay.db"},
		Retention: RetentionConfig{Default: policy.Default},
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{Name: "relay", StreamBuffer: 16},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds settings from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, then validates them.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustLoad loads settings from path.
// Panics if the file is unreadable or the settings are invalid.
// Use this only when configuration errors should be fatal.
func MustLoad(path string) Settings {
	settings, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func (s *Settings) applyEnv() error {
	var err error
	if v := os.Getenv("RELAY_DEFAULT_MODEL"); v != "" {
		s.Models.Default = v
	}
	if v := os.Getenv("RELAY_FALLBACK_MODELS"); v != "" {
		s.Models.Fallback = splitList(v)
	}
	if s.Models.DocumentsRatio, err = getEnvFloat64("RELAY_DOCUMENTS_RATIO", s.Models.DocumentsRatio); err != nil {
		return err
	}
	if s.Security.MaxLength, err = getEnvInt("RELAY_MAX_MESSAGE_LENGTH", s.Security.MaxLength); err != nil {
		return err
	}
	if s.Security.MaxMessages, err = getEnvInt("RELAY_MAX_MESSAGES", s.Security.MaxMessages); err != nil {
		return err
	}
	if v := os.Getenv("RELAY_STORAGE"); v != "" {
		s.Storage.Driver = v
	}
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		s.Storage.Path = v
	}
	if s.Retention.Default, err = getEnvDuration("RELAY_RETENTION", s.Retention.Default); err != nil {
		return err
	}
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		s.Server.Addr = v
	}
	if s.Server.RequestTimeout, err = getEnvDuration("RELAY_REQUEST_TIMEOUT", s.Server.RequestTimeout); err != nil {
		return err
	}
	if v := os.Getenv("RELAY_SYSTEM_PROMPT"); v != "" {
		s.Engine.SystemPrompt = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		s.Log.Format = v
	}
	return nil
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if s.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	if s.Models.DocumentsRatio < 0 || s.Models.DocumentsRatio > 1 {
		errs = append(errs, fmt.Errorf("models.documentsRatio %v out of range [0,1]", s.Models.DocumentsRatio))
	}
	if s.Security.MaxLength <= 0 {
		errs = append(errs, errors.New("security.maxLength must be positive"))
	}
	if s.Security.MaxMessages <= 0 {
		errs = append(errs, errors.New("security.maxMessages must be positive"))
	}
	switch s.Storage.Driver {
	case "memory":
	case "sqlite":
		if s.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be sqlite or memory", s.Storage.Driver))
	}
	if s.Retention.Default <= 0 {
		errs = append(errs, errors.New("retention.default must be positive"))
	}
	if s.Retention.ChatHistory < 0 {
		errs = append(errs, errors.New("retention.chatHistory must not be negative"))
	}
	if s.Engine.StreamBuffer < 0 {
		errs = append(errs, errors.New("engine.streamBuffer must not be negative"))
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", s.Log.Format))
	}
	return errors.Join(errs...)
}

// ResolverConfig returns the model resolver settings.
func (s Settings) ResolverConfig() llm.ResolverConfig {
	return llm.ResolverConfig{
		DefaultModel:   s.Models.Default,
		FallbackOrder:  s.Models.Fallback,
		DocumentsRatio: s.Models.DocumentsRatio,
	}
}

// FilterOptions returns the content filter limits.
func (s Settings) FilterOptions() security.Options {
	return security.Options{
		MaxLength:       s.Security.MaxLength,
		MaxMessages:     s.Security.MaxMessages,
		RedactionMarker: s.Security.RedactionMarker,
	}
}

// RetentionPolicy returns the retention policy.
func (s Settings) RetentionPolicy() storage.RetentionPolicy {
	p := storage.RetentionPolicy{Default: s.Retention.Default, TTL: map[string]time.Duration{}}
	if s.Retention.ChatHistory > 0 {
		p.TTL[model.CategoryChatHistory] = s.Retention.ChatHistory
	}
	return p
}

// LogLevel returns the configured slog level. Invalid values were rejected
// by Validate; they map to info here.
func (s Settings) LogLevel() slog.Level {
	level, _ := parseLevel(s.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
// The provider may be given by name or alias.
func APIKeyFor(provider string) (string, error) {
	p, err := llm.ParseProviderType(provider)
	if err != nil {
		return "", err
	}
	return ProviderKey(p)
}

// ProviderKey returns the API key for p. It satisfies llm.KeyFunc.
func ProviderKey(p llm.ProviderType) (string, error) {
	env := p.EnvVar()
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", env)
	}
	return key, nil
}

var _ llm.KeyFunc = ProviderKey

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
