package ledger

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
)

// ClientHeader carries the ledger client identity stamped as publisher.
const ClientHeader = "X-Ledger-Client"

// Handler serves a Service over HTTP for registrar nodes running in remote mode.
type Handler struct {
	svc    Service
	token  string
	logger *slog.Logger
}

// NewHandler wraps svc. When token is non-empty every request must carry it
// as a bearer token.
func NewHandler(svc Service, token string) *Handler {
	return &Handler{
		svc:    svc,
		token:  token,
		logger: slog.Default().With("component", "ledger-gateway"),
	}
}

// Routes returns the gateway mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("POST /ledger/v1/releases", h.authed(h.handlePublish))
	mux.Handle("GET /ledger/v1/releases/{packageId}", h.authed(h.handleList))
	mux.Handle("GET /ledger/v1/releases/{packageId}/{version}", h.authed(h.handleGet))
	mux.Handle("POST /ledger/v1/releases/{packageId}/{version}/validate", h.authed(h.handleValidate))
	mux.Handle("POST /ledger/v1/releases/{packageId}/{version}/discontinue", h.authed(h.handleDiscontinue))
	mux.Handle("GET /ledger/v1/releases/{packageId}/{version}/history", h.authed(h.handleHistory))
	return mux
}

func (h *Handler) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				api.Unauthorized(w, r, "invalid ledger token")
				return
			}
		}
		ctx := r.Context()
		if id := r.Header.Get(ClientHeader); id != "" {
			ctx = WithCaller(ctx, id)
		}
		next(w, r.WithContext(ctx))
	})
}

type publishRequest struct {
	PackageID   string `json:"packageId"`
	Version     string `json:"version"`
	ContentHash string `json:"contentHash"`
}

type validateRequest struct {
	ContentHash string `json:"contentHash"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

type listResponse struct {
	Releases []*Release `json:"releases"`
}

type historyResponse struct {
	Entries []Entry `json:"entries"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.Fail(w, r, http.StatusBadRequest, "", "invalid publish request body")
		return
	}
	rel, err := h.svc.Publish(r.Context(), req.PackageID, req.Version, req.ContentHash)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rel, err := h.svc.Get(r.Context(), r.PathValue("packageId"), r.PathValue("version"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rels, err := h.svc.List(r.Context(), r.PathValue("packageId"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if rels == nil {
		rels = []*Release{}
	}
	writeJSON(w, http.StatusOK, listResponse{Releases: rels})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.Fail(w, r, http.StatusBadRequest, "", "invalid validate request body")
		return
	}
	ok, err := h.svc.Validate(r.Context(), r.PathValue("packageId"), r.PathValue("version"), req.ContentHash)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: ok})
}

func (h *Handler) handleDiscontinue(w http.ResponseWriter, r *http.Request) {
	rel, err := h.svc.Discontinue(r.Context(), r.PathValue("packageId"), r.PathValue("version"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), r.PathValue("packageId"), r.PathValue("version"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		api.Fail(w, r, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, ErrNotFound):
		api.Fail(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ErrInvalidArgument):
		api.Fail(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	case errors.Is(err, ErrRevisionConflict):
		api.Unavailable(w, r, "REVISION_CONFLICT", err.Error(), time.Second)
	default:
		h.logger.ErrorContext(r.Context(), "ledger request failed", "path", r.URL.Path, "error", err)
		api.Internal(w, r, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
