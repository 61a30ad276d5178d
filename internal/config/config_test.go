package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if service != keyringService {
		return "", errors.New("wrong service")
	}
	v, ok := m.values[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	data map[string]any
}

func newMockBackend(data map[string]any) *mockBackend {
	if data == nil {
		data = map[string]any{}
	}
	return &mockBackend{data: data}
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, errors.New("not a string")
	}
	return s, true, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m *mockBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mockBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *mockBackend) Delete(key string) error          { delete(m.data, key); return nil }

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "discord-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadWith(newMockBackend(nil), mockKeychain{}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Gateway.Kind != "discord" {
		t.Errorf("Gateway.Kind = %q, want discord", cfg.Gateway.Kind)
	}
	if cfg.LLM.Model != "gpt-3.5-turbo-0125" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.MaxTokens != 350 || cfg.LLM.Temperature != 0.8 {
		t.Errorf("LLM limits = %d/%v, want 350/0.8", cfg.LLM.MaxTokens, cfg.LLM.Temperature)
	}
	if d, err := cfg.CooldownDuration(); err != nil || d != 8*time.Second {
		t.Errorf("CooldownDuration = %v, %v; want 8s", d, err)
	}
	if d, err := cfg.TimeoutDuration(); err != nil || d != 60*time.Second {
		t.Errorf("TimeoutDuration = %v, %v; want 60s", d, err)
	}
	if cfg.Persona.Ref != "station12" {
		t.Errorf("Persona.Ref = %q", cfg.Persona.Ref)
	}
	if cfg.Storage.Backend != "json" || cfg.Storage.File != "gabby-db.json" || cfg.Storage.DataDir != "." {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Addr() != ":3000" {
		t.Errorf("Addr = %q, want :3000", cfg.Addr())
	}
}

func TestBackendThenEnvPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "discord-token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GABBY_LLM_MODEL", "gpt-4o-mini")

	b := newMockBackend(map[string]any{
		"server.port":     8080,
		"llm.model":       "from-file",
		"llm.temperature": "0.3",
		"relay.cooldown":  "2s",
		"discord.token":   "secrets-are-not-read-from-the-file",
	})
	cfg, err := loadWith(b, mockKeychain{}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, env should win", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.3 {
		t.Errorf("LLM.Temperature = %v, want 0.3", cfg.LLM.Temperature)
	}
	if d, _ := cfg.CooldownDuration(); d != 2*time.Second {
		t.Errorf("cooldown = %v, want 2s", d)
	}
	if cfg.Discord.Token != "discord-token" {
		t.Errorf("Discord.Token = %q", cfg.Discord.Token)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "d")
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("GABBY_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMockBackend(nil), mockKeychain{}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want default 3000", cfg.Server.Port)
	}
}

func TestKeychainFillsMissingSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "from-env")
	kc := mockKeychain{values: map[string]string{
		"discord.token": "from-keyring",
		"llm.api_key":   "keyring-loses",
	}}

	cfg, err := loadWith(newMockBackend(nil), kc, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Discord.Token != "from-keyring" {
		t.Errorf("Discord.Token = %q", cfg.Discord.Token)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("LLM.APIKey = %q, env should win over keyring", cfg.LLM.APIKey)
	}
}

func TestMissingRequiredSecrets(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"no discord token", map[string]string{"OPENAI_API_KEY": "k"}, "DISCORD_BOT_TOKEN"},
		{"no llm key", map[string]string{"DISCORD_BOT_TOKEN": "d"}, "OPENAI_API_KEY"},
		{"matrix without token", map[string]string{
			"GABBY_GATEWAY": "matrix", "OPENAI_API_KEY": "k",
			"GABBY_MATRIX_HOMESERVER": "https://hs", "GABBY_MATRIX_USER_ID": "@g:hs",
		}, "MATRIX_ACCESS_TOKEN"},
		{"matrix without homeserver", map[string]string{
			"GABBY_GATEWAY": "matrix", "OPENAI_API_KEY": "k", "MATRIX_ACCESS_TOKEN": "t",
			"GABBY_MATRIX_USER_ID": "@g:hs",
		}, "matrix.homeserver"},
		{"unknown gateway", map[string]string{"GABBY_GATEWAY": "irc", "OPENAI_API_KEY": "k"}, "invalid gateway.kind"},
		{"bad cooldown", map[string]string{"DISCORD_BOT_TOKEN": "d", "OPENAI_API_KEY": "k", "GABBY_RELAY_COOLDOWN": "soon"}, "relay.cooldown"},
		{"zero cooldown", map[string]string{"DISCORD_BOT_TOKEN": "d", "OPENAI_API_KEY": "k", "GABBY_RELAY_COOLDOWN": "0s"}, "must be positive"},
		{"bad backend", map[string]string{"DISCORD_BOT_TOKEN": "d", "OPENAI_API_KEY": "k", "GABBY_STORAGE_BACKEND": "redis"}, "storage.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadWith(newMockBackend(nil), mockKeychain{}, true)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConsoleNeedsNoGatewayToken(t *testing.T) {
	clearEnv(t)
	t.Setenv("GABBY_GATEWAY", "console")
	t.Setenv("OPENAI_API_KEY", "k")
	if _, err := loadWith(newMockBackend(nil), mockKeychain{}, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLenientSkipsRequiredCheck(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(newMockBackend(nil), mockKeychain{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestRoomList(t *testing.T) {
	cfg := Config{Matrix: MatrixConfig{Rooms: " !a:hs, ,!b:hs "}}
	got := cfg.RoomList()
	if len(got) != 2 || got[0] != "!a:hs" || got[1] != "!b:hs" {
		t.Errorf("RoomList = %q", got)
	}
	if rooms := (Config{}).RoomList(); rooms != nil {
		t.Errorf("empty RoomList = %q, want nil", rooms)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-very-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-very-secret") {
			t.Fatalf("secret leaked in %s", ki.Key)
		}
		if ki.Key == "llm.api_key" && ki.Value != "(set)" {
			t.Errorf("llm.api_key shown as %q, want (set)", ki.Value)
		}
		if ki.Key == "discord.token" && ki.Value != "(unset)" {
			t.Errorf("discord.token shown as %q, want (unset)", ki.Value)
		}
	}
}

func TestSetKeyWith(t *testing.T) {
	b := newMockBackend(nil)

	if err := setKeyWith(b, "server.port", "4000"); err != nil {
		t.Fatalf("setting int: %v", err)
	}
	if b.data["server.port"] != 4000 {
		t.Errorf("server.port stored as %v", b.data["server.port"])
	}
	if err := setKeyWith(b, "llm.temperature", "0.5"); err != nil {
		t.Fatalf("setting float: %v", err)
	}
	if b.data["llm.temperature"] != "0.5" {
		t.Errorf("llm.temperature stored as %v", b.data["llm.temperature"])
	}

	for key, value := range map[string]string{
		"server.port":     "abc",
		"llm.temperature": "warm",
		"llm.api_key":     "sk",
		"no.such.key":     "x",
	} {
		if err := setKeyWith(b, key, value); err == nil {
			t.Errorf("setKeyWith(%q, %q) should fail", key, value)
		}
	}
}

func TestValidAndSecretKeysPartition(t *testing.T) {
	valid, secret := ValidKeys(), SecretKeys()
	if len(valid)+len(secret) != len(specs) {
		t.Fatalf("partition sizes %d+%d != %d", len(valid), len(secret), len(specs))
	}
	for _, k := range []string{"discord.token", "matrix.access_token", "llm.api_key", "api.token"} {
		found := false
		for _, s := range secret {
			if s == k {
				found = true
			}
		}
		if !found {
			t.Errorf("%s should be secret", k)
		}
	}
}

func TestStoreSecretRejectsPlainKeys(t *testing.T) {
	if err := StoreSecret("server.port", "1"); err == nil {
		t.Error("expected error for non-secret key")
	}
	if err := StoreSecret("no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gabby", "config.json")
	b := newFileBackend(path)
	if err := b.SetInt("server.port", 9000); err != nil {
		t.Fatal(err)
	}
	if err := b.SetString("persona.ref", "endocarp"); err != nil {
		t.Fatal(err)
	}

	reloaded := newFileBackend(path)
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 9000 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, _ := reloaded.GetString("persona.ref"); !ok || v != "endocarp" {
		t.Errorf("GetString = %q, %v", v, ok)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	if err := reloaded.Delete("persona.ref"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := newFileBackend(path).GetString("persona.ref"); ok {
		t.Error("deleted key still present")
	}
}

func TestConfigFilePathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if got, want := configFilePath(), filepath.Join(dir, "gabby", "config.json"); got != want {
		t.Errorf("configFilePath = %q, want %q", got, want)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GABBY_LLM_MODEL=from-dotenv\nGABBY_PERSONA=endocarp\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GABBY_LLM_MODEL", "from-env")
	t.Setenv("GABBY_PERSONA", "")
	os.Unsetenv("GABBY_PERSONA")

	loadDotEnv(path)

	if got := os.Getenv("GABBY_LLM_MODEL"); got != "from-env" {
		t.Errorf("GABBY_LLM_MODEL = %q, real environment should win", got)
	}
	if got := os.Getenv("GABBY_PERSONA"); got != "endocarp" {
		t.Errorf("GABBY_PERSONA = %q, want value from .env", got)
	}
}
