package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key      string
	typ      keyType
	env      string
	secret   bool
	required bool
	account  string // secret store account for secrets
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

// secretAccounts lists the secret store accounts consulted by Load.
func secretAccounts() []string {
	var out []string
	for _, s := range specs {
		if s.secret && s.account != "" {
			out = append(out, s.account)
		}
	}
	return out
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DREAMSYNTH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "DREAMSYNTH_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DREAMSYNTH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.backend", typ: kString, env: "DREAMSYNTH_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "transcription.api_key", typ: kString, env: "GROQ_API_KEY",
		secret: true, required: true, account: "groq_api_key",
		apply:   func(cfg *Config, v any) { cfg.Transcription.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.APIKey },
	},
	{
		key: "transcription.base_url", typ: kString, env: "DREAMSYNTH_TRANSCRIPTION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.BaseURL },
	},
	{
		key: "transcription.model", typ: kString, env: "DREAMSYNTH_TRANSCRIPTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Model },
	},
	{
		key: "transcription.language", typ: kString, env: "DREAMSYNTH_TRANSCRIPTION_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Transcription.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcription.Language },
	},
	{
		key: "emotion.api_key", typ: kString, env: "MISTRAL_API_KEY",
		secret: true, required: true, account: "mistral_api_key",
		apply:   func(cfg *Config, v any) { cfg.Emotion.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Emotion.APIKey },
	},
	{
		key: "emotion.base_url", typ: kString, env: "DREAMSYNTH_EMOTION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Emotion.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Emotion.BaseURL },
	},
	{
		key: "emotion.model", typ: kString, env: "DREAMSYNTH_EMOTION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Emotion.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Emotion.Model },
	},
	{
		key: "image.api_key", typ: kString, env: "CLIPDROP_API_KEY",
		secret: true, required: true, account: "clipdrop_api_key",
		apply:   func(cfg *Config, v any) { cfg.Image.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Image.APIKey },
	},
	{
		key: "image.base_url", typ: kString, env: "DREAMSYNTH_IMAGE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Image.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Image.BaseURL },
	},
	{
		key: "pipeline.remote_timeout", typ: kString, env: "DREAMSYNTH_PIPELINE_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RemoteTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.RemoteTimeout },
	},
	{
		key: "pipeline.max_concurrent_runs", typ: kInt, env: "DREAMSYNTH_PIPELINE_MAX_CONCURRENT_RUNS",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxConcurrentRuns = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxConcurrentRuns },
	},
	{
		key: "log.level", typ: kString, env: "DREAMSYNTH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "DREAMSYNTH_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
