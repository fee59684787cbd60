package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Service is the secret store service name secrets are looked up under.
const Service = "dreamsynth"

const (
	defaultRemoteTimeout = 60 * time.Second
	defaultLogLevel      = "info"
)

type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Transcription TranscriptionConfig
	Emotion       EmotionConfig
	Image         ImageConfig
	Pipeline      PipelineConfig
	Log           LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string
}

type StorageConfig struct {
	DataDir string
	Backend string // "sqlite" or "json"
}

type TranscriptionConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

type EmotionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ImageConfig struct {
	APIKey  string
	BaseURL string
}

type PipelineConfig struct {
	RemoteTimeout     string
	MaxConcurrentRuns int
}

type LogConfig struct {
	Level string
	File  string
}

// Timeout parses RemoteTimeout, falling back to 60s when it is empty or invalid.
func (p PipelineConfig) Timeout() time.Duration {
	if p.RemoteTimeout == "" {
		return defaultRemoteTimeout
	}
	d, err := time.ParseDuration(p.RemoteTimeout)
	if err != nil || d <= 0 {
		slog.Warn("invalid pipeline.remote_timeout, using default",
			"value", p.RemoteTimeout, "default", defaultRemoteTimeout)
		return defaultRemoteTimeout
	}
	return d
}

// SlogLevel maps Level onto a slog level. Unknown values mean info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8501,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Backend: "sqlite",
		},
		Transcription: TranscriptionConfig{
			BaseURL:  "https://api.groq.com/openai/v1",
			Model:    "whisper-large-v3-turbo",
			Language: "fr",
		},
		Emotion: EmotionConfig{
			BaseURL: "https://api.mistral.ai/v1",
			Model:   "mistral-small",
		},
		Image: ImageConfig{
			BaseURL: "https://clipdrop-api.co",
		},
		Pipeline: PipelineConfig{
			RemoteTimeout:     defaultRemoteTimeout.String(),
			MaxConcurrentRuns: 1,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}

// MissingCredentialsError names every required secret that was not found.
type MissingCredentialsError struct {
	Keys []string // environment variable names
}

func (e *MissingCredentialsError) Error() string {
	return "missing required config: " + strings.Join(e.Keys, ", ") +
		". Set them via environment variables or " + secretStoreLocation()
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.dreamsynth.app) and
// secrets fall back to the macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/dreamsynth/config.yaml
// and secrets fall back to $XDG_DATA_HOME/dreamsynth/secrets.json.
//
// Environment variables override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// LoadPartial is Load without the required-credentials check, for commands
// that only read or edit settings.
func LoadPartial() (Config, error) {
	cfg, err := loadWith(newPlatformBackend(), keychainReader{})
	var merr *MissingCredentialsError
	if err != nil && !errors.As(err, &merr) {
		return Config{}, err
	}
	return cfg, nil
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// loadWith builds the config. When required secrets are missing it returns
// the config built so far together with a *MissingCredentialsError.
func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	var missing []string
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if s.extract(cfg).(string) == "" && s.account != "" {
			if v, err := kc.Get(Service, s.account); err == nil && v != "" {
				s.apply(&cfg, v)
			}
		}
		if s.required && s.extract(cfg).(string) == "" {
			missing = append(missing, s.env)
		}
	}
	if len(missing) > 0 {
		return cfg, &MissingCredentialsError{Keys: missing}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// DataPath describes where dreams are persisted, for display.
func (c Config) DataPath() string {
	name := "dreams.db"
	if c.Storage.Backend == "json" {
		name = "dreams.json"
	}
	return filepath.Join(c.Storage.DataDir, name)
}
