package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/BanjoBob15/gabby-discord-bot/internal/config"
	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) only(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	return ts.requests[0]
}

// captureStatus redirects the decorated status output for one test.
func captureStatus(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old, oldColor := statusOut, noColor
	statusOut, noColor = &buf, true
	t.Cleanup(func() { statusOut, noColor = old, oldColor })
	return &buf
}

var ctx = context.Background()

func TestProfileShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /profiles/42": `{"name":"Rook","mood":"hopeful","condition":"stable","notes":["User said: \"hi\""]}`,
	})

	var out bytes.Buffer
	if err := showProfile(ctx, ts.client(), &out, "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := ts.only(t)
	if r.Method != "GET" || r.Path != "/profiles/42" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if !strings.Contains(out.String(), `"name": "Rook"`) {
		t.Errorf("output missing indented name:\n%s", out.String())
	}
}

func TestProfileList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /profiles": `[{"user_id":"a","name":"First Liner","mood":"neutral","condition":"stable","notes":[]},` +
			`{"user_id":"b","name":"Rook","mood":"sad","condition":"weak","notes":["x","y"]}]`,
	})

	var out bytes.Buffer
	if err := listProfiles(ctx, ts.client(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[0], "USER") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], "Rook") || !strings.HasSuffix(lines[2], "2") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestProfileListEmpty(t *testing.T) {
	status := captureStatus(t)
	ts := newTestServer(t, map[string]string{"GET /profiles": `[]`})

	var out bytes.Buffer
	if err := listProfiles(ctx, ts.client(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no table output, got %q", out.String())
	}
	if !strings.Contains(status.String(), "no profiles") {
		t.Errorf("status output = %q", status.String())
	}
}

func TestProfileSet(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /profiles/42": `{"name":"First Liner","mood":"angry","condition":"stable","notes":[]}`,
	})

	if err := setProfileField(ctx, ts.client(), "42", "mood", "angry"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := ts.only(t)
	if r.Method != "PATCH" {
		t.Errorf("method = %q, want PATCH", r.Method)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["mood"] != "angry" || len(body) != 1 {
		t.Errorf("body = %v", body)
	}
}

func TestProfileSet_InvalidValueNeverSent(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, args := range [][2]string{{"mood", "ecstatic"}, {"rank", "captain"}} {
		if err := setProfileField(ctx, ts.client(), "42", args[0], args[1]); err == nil {
			t.Errorf("set %s=%s should fail", args[0], args[1])
		}
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestProfileNote(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /profiles/42/notes": `{"status":"appended"}`,
	})

	if err := appendNote(ctx, ts.client(), "42", "moved to deck 3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := ts.only(t)
	if r.Path != "/profiles/42/notes" || r.Body != `{"text":"moved to deck 3"}` {
		t.Errorf("request = %s %s", r.Path, r.Body)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	err := showProfile(ctx, ts.client(), &bytes.Buffer{}, "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q", err)
	}
}

func TestServerNotReachable(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.client()
	ts.server.Close()

	_, err := c.get(ctx, "/profiles")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestProfileShow_RequiresArg(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"profile", "show"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing user id")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestReadSecret(t *testing.T) {
	v, err := readSecret(strings.NewReader("  sk-abc \nignored\n"))
	if err != nil || v != "sk-abc" {
		t.Errorf("readSecret = %q, %v", v, err)
	}
	v, err = readSecret(strings.NewReader("no-newline"))
	if err != nil || v != "no-newline" {
		t.Errorf("readSecret without newline = %q, %v", v, err)
	}
	if _, err := readSecret(strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestPrintPersona(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var out bytes.Buffer
	printPersona(&out, persona.MustLoad(persona.Default))
	s := out.String()
	if !strings.HasPrefix(s, "Name: Gabby\n") {
		t.Errorf("output starts %q", s[:min(len(s), 40)])
	}
	if !strings.Contains(s, "Prompt:\n") {
		t.Error("prompt section missing")
	}
}

func TestVersionCommand(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "gabby version dev\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestLocalBaseURL(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Port: 3000}}
	if got := localBaseURL(cfg); got != "http://127.0.0.1:3000" {
		t.Errorf("localBaseURL = %q", got)
	}
	cfg.Server.Host = "10.0.0.5"
	if got := localBaseURL(cfg); got != "http://10.0.0.5:3000" {
		t.Errorf("localBaseURL = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	s := buf.String()
	if strings.Contains(s, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", s, err)
	}
	if line["msg"] != "shown" || line["level"] != slog.LevelWarn.String() {
		t.Errorf("line = %v", line)
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "bogus"}, &buf).Debug("dropped")
	if buf.Len() != 0 {
		t.Error("unknown level should fall back to info")
	}
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	b, state, err := openBackend(config.StorageConfig{Backend: "json", DataDir: dir, File: "profiles.json"})
	if err != nil {
		t.Fatalf("json backend: %v", err)
	}
	if state != nil {
		t.Error("json backend should not provide gateway state")
	}
	if err := b.Save(ctx, "42", profile.Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b.Close()
	if _, err := os.Stat(filepath.Join(dir, "profiles.json")); err != nil {
		t.Errorf("profile file not written: %v", err)
	}

	b, state, err = openBackend(config.StorageConfig{Backend: "sqlite", DataDir: dir})
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	defer b.Close()
	if state == nil {
		t.Error("sqlite backend should provide gateway state")
	}

	if _, _, err := openBackend(config.StorageConfig{Backend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
