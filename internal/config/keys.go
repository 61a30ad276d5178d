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
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "GABBY_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "GABBY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gateway.kind", typ: kString, env: "GABBY_GATEWAY",
		apply:   func(cfg *Config, v any) { cfg.Gateway.Kind = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.Kind },
	},
	{
		key: "discord.token", typ: kString, env: "DISCORD_BOT_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Discord.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Discord.Token },
	},
	{
		key: "matrix.homeserver", typ: kString, env: "GABBY_MATRIX_HOMESERVER",
		apply:   func(cfg *Config, v any) { cfg.Matrix.Homeserver = v.(string) },
		extract: func(cfg Config) any { return cfg.Matrix.Homeserver },
	},
	{
		key: "matrix.user_id", typ: kString, env: "GABBY_MATRIX_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Matrix.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Matrix.UserID },
	},
	{
		key: "matrix.access_token", typ: kString, env: "MATRIX_ACCESS_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Matrix.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Matrix.AccessToken },
	},
	{
		key: "matrix.rooms", typ: kString, env: "GABBY_MATRIX_ROOMS",
		apply:   func(cfg *Config, v any) { cfg.Matrix.Rooms = v.(string) },
		extract: func(cfg Config) any { return cfg.Matrix.Rooms },
	},
	{
		key: "llm.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "GABBY_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "GABBY_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "GABBY_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "GABBY_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.timeout", typ: kString, env: "GABBY_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "relay.cooldown", typ: kString, env: "GABBY_RELAY_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Relay.Cooldown = v.(string) },
		extract: func(cfg Config) any { return cfg.Relay.Cooldown },
	},
	{
		key: "persona.ref", typ: kString, env: "GABBY_PERSONA",
		apply:   func(cfg *Config, v any) { cfg.Persona.Ref = v.(string) },
		extract: func(cfg Config) any { return cfg.Persona.Ref },
	},
	{
		key: "storage.backend", typ: kString, env: "GABBY_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GABBY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.file", typ: kString, env: "GABBY_STORAGE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Storage.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.File },
	},
	{
		key: "log.level", typ: kString, env: "GABBY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "GABBY_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "api.token", typ: kString, env: "GABBY_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
