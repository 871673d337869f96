// Package builds exposes the build engine over HTTP.
package builds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"packforge/internal/blob"
	"packforge/internal/core"
	"packforge/pkg/domain"
)

const maxRequestBytes = 1 << 20

// Builder is the subset of core.Service the handler drives.
type Builder interface {
	Build(ctx context.Context, req core.BuildRequest) (core.BuildResult, error)
	LastBuild(root string) (domain.BuildSummary, bool)
	PackageArchive(ctx context.Context, root, dir string) (core.ArchiveResult, error)
	ArchiveURL(ctx context.Context, root string, expiry time.Duration) (string, error)
}

// Defaults fill request fields the client leaves empty.
type Defaults struct {
	OutputRoot    string
	Parity        domain.ParityMode
	Deterministic bool
}

// Handler serves /api/v1/builds.
type Handler struct {
	Builder  Builder
	Defaults Defaults
	// Overlays returns the configured overlay set used when a request carries
	// none. Nil means builds run without overlays by default.
	Overlays func() *domain.OverlayConfig
	Logger   *slog.Logger
}

// NewHandler constructs a build handler.
func NewHandler(b Builder, defaults Defaults) *Handler {
	return &Handler{Builder: b, Defaults: defaults, Logger: slog.Default()}
}

// BuildRequest is the POST body.
type BuildRequest struct {
	Profile       domain.Profile        `json:"profile"`
	OutputRoot    string                `json:"output_root,omitempty"`
	Parity        string                `json:"parity,omitempty"`
	Deterministic *bool                 `json:"deterministic,omitempty"`
	Overlays      *domain.OverlayConfig `json:"overlays,omitempty"`
	// SkipOverlays disables the configured overlay set for this request.
	SkipOverlays bool `json:"skip_overlays,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Builder == nil {
		writeError(w, http.StatusInternalServerError, "build service not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch path {
	case "/api/v1/builds":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleBuild(w, r)
	case "/api/v1/builds/last":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleLast(w, r)
	case "/api/v1/builds/archive":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleArchive(w, r)
	case "/api/v1/builds/archive/url":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleArchiveURL(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleBuild(w http.ResponseWriter, r *http.Request) {
	var body BuildRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid build request payload: "+err.Error())
		return
	}
	req := core.BuildRequest{
		Profile:       body.Profile,
		OutputRoot:    firstNonEmpty(body.OutputRoot, h.Defaults.OutputRoot),
		Parity:        domain.ParityMode(firstNonEmpty(body.Parity, string(h.Defaults.Parity))),
		Deterministic: h.Defaults.Deterministic,
		Overlays:      body.Overlays,
	}
	if body.Deterministic != nil {
		req.Deterministic = *body.Deterministic
	}
	if req.Overlays == nil && !body.SkipOverlays && h.Overlays != nil {
		req.Overlays = h.Overlays()
	}

	res, err := h.Builder.Build(r.Context(), req)
	if err != nil {
		var rejected *core.ParityRejectedError
		if errors.As(err, &rejected) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": rejected.Result})
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"result": res})
}

func (h *Handler) handleLast(w http.ResponseWriter, r *http.Request) {
	root := h.root(r)
	if root == "" {
		writeError(w, http.StatusBadRequest, "root query parameter required")
		return
	}
	summary, ok := h.Builder.LastBuild(root)
	if !ok {
		writeError(w, http.StatusNotFound, "no build recorded for "+root)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"build": summary})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	root := h.root(r)
	if root == "" {
		writeError(w, http.StatusBadRequest, "root query parameter required")
		return
	}
	archive, err := h.Builder.PackageArchive(r.Context(), root, r.URL.Query().Get("dir"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.DirName+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	w.Header().Set("X-Content-Hash", archive.ContentHash)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}

func (h *Handler) handleArchiveURL(w http.ResponseWriter, r *http.Request) {
	root := h.root(r)
	if root == "" {
		writeError(w, http.StatusBadRequest, "root query parameter required")
		return
	}
	expiry := 15 * time.Minute
	if raw := r.URL.Query().Get("expiry"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid expiry")
			return
		}
		expiry = d
	}
	u, err := h.Builder.ArchiveURL(r.Context(), root, expiry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": u, "expires_in": expiry.String()})
}

func (h *Handler) root(r *http.Request) string {
	return firstNonEmpty(r.URL.Query().Get("root"), h.Defaults.OutputRoot)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	var busy *core.LockBusyError
	if errors.As(err, &busy) {
		w.Header().Set("Retry-After", strconv.Itoa(int(busy.RetryAfter/time.Second)))
	}
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("build request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, core.ErrLockBusy):
		return http.StatusLocked
	case errors.Is(err, domain.ErrParityRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidProfile),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrParityModeRequired),
		errors.Is(err, domain.ErrUnknownDocument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBuildNotFound):
		return http.StatusNotFound
	case errors.Is(err, blob.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
