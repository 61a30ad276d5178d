package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BanjoBob15/gabby-discord-bot/internal/api"
	"github.com/BanjoBob15/gabby-discord-bot/internal/completion"
	"github.com/BanjoBob15/gabby-discord-bot/internal/config"
	"github.com/BanjoBob15/gabby-discord-bot/internal/gateway"
	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
	"github.com/BanjoBob15/gabby-discord-bot/internal/ratelimit"
	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
	"github.com/BanjoBob15/gabby-discord-bot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Connect to the configured chat platform and serve (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether gabby is running and what it has been doing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

// errGatewayClosed ends the process when a gateway stops on its own, for
// example when the console reaches end of input.
var errGatewayClosed = errors.New("gateway closed")

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// profileBackend is a profile.Backend that owns resources.
type profileBackend interface {
	profile.Backend
	Close() error
}

// openBackend opens the configured profile store. The state store is nil
// for the JSON backend.
func openBackend(cfg config.StorageConfig) (profileBackend, gateway.StateStore, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := storage.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		return store, store, nil
	case "json", "":
		file := cfg.File
		if file == "" {
			file = storage.DefaultProfileFile
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating data directory: %w", err)
		}
		f, err := storage.OpenJSONFile(filepath.Join(cfg.DataDir, file))
		if err != nil {
			return nil, nil, fmt.Errorf("opening profile file: %w", err)
		}
		return f, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newGateway(cfg config.Config, p *persona.Persona, state gateway.StateStore, logger *slog.Logger) (gateway.Gateway, error) {
	switch cfg.Gateway.Kind {
	case "discord":
		return gateway.NewDiscord(gateway.DiscordConfig{
			Token:    cfg.Discord.Token,
			Activity: p.Activity,
			Name:     p.Name,
		}, logger)
	case "matrix":
		return gateway.NewMatrix(gateway.MatrixConfig{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.RoomList(),
			State:       state,
		}, logger)
	case "console":
		return gateway.NewConsole(gateway.ConsoleConfig{UserID: localUser(), Name: p.Name}), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q", cfg.Gateway.Kind)
	}
}

// localUser names the operator for the console gateway.
func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "console:" + u.Username
	}
	return "console"
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	slog.Info("starting gabby", "version", version, "gateway", cfg.Gateway.Kind, "storage", cfg.Storage.Backend)

	// Refuse to start twice on the same port.
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(localBaseURL(cfg) + "/health"); err == nil {
		resp.Body.Close()
		printWarning("gabby is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	p, err := persona.Load(cfg.Persona.Ref)
	if err != nil {
		return fmt.Errorf("loading persona: %w", err)
	}

	backend, state, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	cooldown, err := cfg.CooldownDuration()
	if err != nil {
		return err
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return err
	}

	llm := completion.NewClient(cfg.LLM.APIKey, completion.Options{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     timeout,
	})
	profiles := profile.NewManager(backend)
	r := relay.New(relay.Deps{
		Profiles:  profiles,
		Limiter:   ratelimit.NewCooldown(cooldown),
		Completer: llm,
		Persona:   p,
		Logger:    logger,
	})

	gw, err := newGateway(cfg, p, state, logger)
	if err != nil {
		return err
	}

	started := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/", api.NewLivenessHandler(p, func() api.Status {
		return api.Status{Name: p.Name, Gateway: gw.Name(), Uptime: api.Since(started), Stats: r.Stats()}
	}))
	if cfg.API.Token != "" {
		admin := api.NewAdminHandler(api.AdminDeps{Profiles: profiles, Token: cfg.API.Token})
		mux.Handle("/profiles", admin)
		mux.Handle("/profiles/", admin)
		slog.Info("admin API enabled")
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("liveness server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := gw.Run(gctx, r.Handle); err != nil {
			return fmt.Errorf("%s gateway: %w", gw.Name(), err)
		}
		if gctx.Err() == nil {
			return errGatewayClosed
		}
		return nil
	})

	err = g.Wait()
	slog.Info("shut down", "stats", r.Stats())
	if errors.Is(err, errGatewayClosed) {
		return nil
	}
	return err
}

func showStatus() error {
	cfg, err := config.LoadLenient()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	baseURL := localBaseURL(cfg)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if err == nil && resp.StatusCode == http.StatusOK {
		if st, err := fetchStatus(client, baseURL); err == nil {
			printStatus("Persona", "%s", st.Name)
			printStatus("Gateway", "%s", st.Gateway)
			printStatus("Uptime", "%s", st.Uptime)
			printStatus("Replies", "%d completions, %d commands", st.Stats.Completions, st.Stats.Commands)
			printStatus("Skipped", "%d ignored, %d throttled", st.Stats.Ignored, st.Stats.Throttled)
			printStatus("Failures", "%d", st.Stats.Failures)
		} else {
			printWarning("could not read /status: %v", err)
		}
	} else {
		printStatus("Gateway", "%s (configured)", cfg.Gateway.Kind)
	}

	printStatus("Model", "%s", cfg.LLM.Model)
	printStatus("Storage", "%s in %s", cfg.Storage.Backend, cfg.Storage.DataDir)
	if cfg.API.Token == "" {
		printStatus("Admin API", "disabled")
	} else {
		printStatus("Admin API", "enabled")
	}
	return nil
}

func fetchStatus(client *http.Client, baseURL string) (api.Status, error) {
	var st api.Status
	resp, err := client.Get(baseURL + "/status")
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}
