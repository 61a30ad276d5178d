package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "gabby"

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Discord DiscordConfig
	Matrix  MatrixConfig
	LLM     LLMConfig
	Relay   RelayConfig
	Persona PersonaConfig
	Storage StorageConfig
	Log     LogConfig
	API     APIConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type GatewayConfig struct {
	Kind string // discord, matrix or console
}

type DiscordConfig struct {
	Token string
}

type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       string // comma separated room ids
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     string
}

type RelayConfig struct {
	Cooldown string
}

type PersonaConfig struct {
	Ref string // built-in persona name or path to a YAML file
}

type StorageConfig struct {
	Backend string // json or sqlite
	DataDir string
	File    string // JSON document name inside DataDir
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type APIConfig struct {
	Token string // enables the admin API when set
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 3000},
		Gateway: GatewayConfig{Kind: "discord"},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo-0125",
			MaxTokens:   350,
			Temperature: 0.8,
			Timeout:     "60s",
		},
		Relay:   RelayConfig{Cooldown: "8s"},
		Persona: PersonaConfig{Ref: "station12"},
		Storage: StorageConfig{
			Backend: "json",
			DataDir: ".",
			File:    "gabby-db.json",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Addr is the listen address of the liveness server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// CooldownDuration parses relay.cooldown.
func (c Config) CooldownDuration() (time.Duration, error) {
	return parsePositiveDuration("relay.cooldown", c.Relay.Cooldown)
}

// TimeoutDuration parses llm.timeout.
func (c Config) TimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("llm.timeout", c.LLM.Timeout)
}

// RoomList splits matrix.rooms.
func (c Config) RoomList() []string {
	var rooms []string
	for _, r := range strings.Split(c.Matrix.Rooms, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration for %s: must be positive", key)
	}
	return d, nil
}

// Load reads configuration for running the relay. Sources, later ones
// winning: defaults, the JSON file at $XDG_CONFIG_HOME/gabby/config.json,
// a .env file in the working directory, the environment, and finally the
// OS keyring for secrets that are still empty.
//
// Load fails when the selected gateway's credentials or the LLM key are
// missing.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), keyringReader{}, true)
}

// LoadLenient is Load without the required-secret check, for commands that
// only inspect configuration.
func LoadLenient() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newPlatformBackend(), keyringReader{}, false)
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", path, err)
	}
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, strict bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applyKeychain(&cfg, kc)

	if !strict {
		return cfg, nil
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyKeychain fills secrets that neither the backend nor the environment
// provided.
func applyKeychain(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(keyringService, s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func validate(cfg Config) error {
	var missing []string
	switch cfg.Gateway.Kind {
	case "discord":
		if cfg.Discord.Token == "" {
			missing = append(missing, "Discord bot token (DISCORD_BOT_TOKEN)")
		}
	case "matrix":
		if cfg.Matrix.Homeserver == "" {
			missing = append(missing, "matrix.homeserver")
		}
		if cfg.Matrix.UserID == "" {
			missing = append(missing, "matrix.user_id")
		}
		if cfg.Matrix.AccessToken == "" {
			missing = append(missing, "Matrix access token (MATRIX_ACCESS_TOKEN)")
		}
	case "console":
	default:
		return fmt.Errorf("invalid gateway.kind %q (want discord, matrix or console)", cfg.Gateway.Kind)
	}
	if cfg.LLM.APIKey == "" {
		missing = append(missing, "OpenAI API key (OPENAI_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s. Set them via environment variables, a .env file, or `gabby config secret`", strings.Join(missing, ", "))
	}

	switch cfg.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("invalid storage.backend %q (want json or sqlite)", cfg.Storage.Backend)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (want text or json)", cfg.Log.Format)
	}
	if _, err := cfg.CooldownDuration(); err != nil {
		return err
	}
	if _, err := cfg.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// keyringReader reads from the OS keyring.
type keyringReader struct{}

func (keyringReader) Get(service, account string) (string, error) {
	v, err := keyring.Get(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

// StoreSecret saves a secret config value in the OS keyring.
func StoreSecret(key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if !s.secret {
		return fmt.Errorf("%q is not a secret; use `gabby config set`", key)
	}
	if err := keyring.Set(keyringService, key, value); err != nil {
		return fmt.Errorf("storing %s in keyring: %w", key, err)
	}
	return nil
}
