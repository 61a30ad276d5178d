package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BanjoBob15/gabby-discord-bot/internal/persona"
	"github.com/BanjoBob15/gabby-discord-bot/internal/relay"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Status is served by GET /status.
type Status struct {
	Name    string      `json:"name"`
	Gateway string      `json:"gateway"`
	Uptime  string      `json:"uptime"`
	Stats   relay.Stats `json:"stats"`
}

// StatusFunc reports the current process status.
type StatusFunc func() Status

// NewLivenessHandler returns the unauthenticated keep-alive surface. Hosting
// platforms poll GET / to keep the process awake.
func NewLivenessHandler(p *persona.Persona, status StatusFunc) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, p.Operational())
	})
	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(status))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "status not available")
			return
		}
		writeJSON(w, http.StatusOK, status())
	}
}

// Since formats the uptime for Status.
func Since(start time.Time) string {
	return time.Since(start).Round(time.Second).String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
