package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mtuomik/chatgate/internal/domain"
	"github.com/mtuomik/chatgate/internal/quota"
)

// AdminHandler exposes per-client quota state for operators. It is
// mounted only when an admin token is configured.
type AdminHandler struct {
	tracker quota.Tracker
	token   string
	mux     *http.ServeMux
}

func NewAdminHandler(tracker quota.Tracker, token string) *AdminHandler {
	h := &AdminHandler{
		tracker: tracker,
		token:   token,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /admin/quota/{client}", h.getQuota)
	h.mux.HandleFunc("DELETE /admin/quota/{client}", h.resetQuota)

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeAdminError(w, http.StatusUnauthorized, "missing or invalid admin token")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *AdminHandler) getQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := r.PathValue("client")

	usage, err := h.tracker.Inspect(ctx, client)
	if err != nil {
		if errors.Is(err, domain.ErrNotTracked) {
			writeAdminError(w, http.StatusNotFound, "client not tracked in current window")
			return
		}
		slog.Error("quota inspect failed", "error", err, "client_id", client)
		writeAdminError(w, http.StatusInternalServerError, "failed to inspect quota")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(usage)
}

func (h *AdminHandler) resetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := r.PathValue("client")

	if err := h.tracker.Reset(ctx, client); err != nil {
		slog.Error("quota reset failed", "error", err, "client_id", client)
		writeAdminError(w, http.StatusInternalServerError, "failed to reset quota")
		return
	}

	slog.Info("quota reset by admin", "client_id", client)
	w.WriteHeader(http.StatusNoContent)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
