package api

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BanjoBob15/gabby-discord-bot/internal/profile"
)

// ProfileService is the profile surface the admin API and MCP server use.
// Implemented by profile.Manager.
type ProfileService interface {
	Get(ctx context.Context, userID string) (profile.UserProfile, error)
	Update(ctx context.Context, userID string, patch profile.Patch) (profile.UserProfile, error)
	AppendNote(ctx context.Context, userID, text string) error
	All(ctx context.Context) (map[string]profile.UserProfile, error)
}

// AdminDeps wires the admin API.
type AdminDeps struct {
	Profiles ProfileService
	Token    string
}

// ProfileEntry is one element of GET /profiles.
type ProfileEntry struct {
	UserID string `json:"user_id"`
	profile.UserProfile
}

// PatchRequest is the body of PATCH /profiles/{userID}.
type PatchRequest struct {
	Name      *string `json:"name,omitempty"`
	Mood      *string `json:"mood,omitempty"`
	Condition *string `json:"condition,omitempty"`
}

// NoteRequest is the body of POST /profiles/{userID}/notes.
type NoteRequest struct {
	Text string `json:"text"`
}

//go:embed schema/profile_patch.json
var profilePatchSchemaJSON string

var profilePatchSchema = jsonschema.MustCompileString("profile_patch.json", profilePatchSchemaJSON)

// NewAdminHandler returns the bearer-protected profile administration API.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/profiles", handleListProfiles(deps))
	r.Get("/profiles/{userID}", handleGetProfile(deps))
	r.Patch("/profiles/{userID}", handlePatchProfile(deps))
	r.Post("/profiles/{userID}/notes", handleAppendNote(deps))

	return r
}

func handleListProfiles(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Profiles.All(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}
		entries := make([]ProfileEntry, 0, len(all))
		for id, p := range all {
			entries = append(entries, ProfileEntry{UserID: id, UserProfile: p})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetProfile(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		p, err := deps.Profiles.Get(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		body, err := readBody(w, r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := profilePatchSchema.Validate(doc); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid profile patch: %s", schemaMessage(err))
			return
		}

		var req PatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		patch := profile.Patch{Name: req.Name, Mood: req.Mood, Condition: req.Condition}

		updated, err := deps.Profiles.Update(r.Context(), userID, patch)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleAppendNote(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req NoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if err := deps.Profiles.AppendNote(r.Context(), userID, req.Text); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to append note: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "appended"})
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty body")
	}
	return body, nil
}

// schemaMessage flattens a validation error to its most specific causes.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
