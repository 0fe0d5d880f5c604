// Package api exposes the gateway over HTTP: the command endpoint and
// read-only views of connected devices.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"avl-gateway/internal/dispatcher"
	"avl-gateway/internal/registry"
)

type Commander interface {
	Handle(ctx context.Context, req dispatcher.ControlRequest) (int, any)
}

// History serves persisted device state, typically the Redis store.
type History interface {
	LastTracking(ctx context.Context, id string) (map[string]string, error)
}

type Handler struct {
	reg     *registry.Registry
	cmds    Commander
	history History
	logger  *slog.Logger
}

// NewHandler wires the API. history may be nil when no store is configured.
func NewHandler(reg *registry.Registry, cmds Commander, history History, lg *slog.Logger) *Handler {
	return &Handler{reg: reg, cmds: cmds, history: history, logger: lg}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "devices": h.reg.Len()})
}

// SendData accepts id and command in the query string or as a JSON body.
func (h *Handler) SendData(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := dispatcher.DecodeControlBody(r.Body, r.URL.Query())
	if err != nil {
		writeJSON(w, dispatcher.StatusFor(err), dispatcher.ErrorResponse{Error: err.Error()})
		return
	}
	status, body := h.cmds.Handle(r.Context(), req)
	h.logger.Info("send-data", "id", req.ID, "command", req.Command, "status", status)
	writeJSON(w, status, body)
}

func (h *Handler) ListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Devices())
}

func (h *Handler) Replies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.reg.Replies(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) LatestReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.reg.LatestReply(id)
	switch {
	case errors.Is(err, registry.ErrNoReply):
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		writeError(w, id, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"kind": e.Kind, "entry": e})
	}
}

func (h *Handler) LastTracking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.history == nil {
		writeJSON(w, http.StatusNotImplemented, dispatcher.ErrorResponse{Error: "no store configured", DeviceID: id})
		return
	}
	fields, err := h.history.LastTracking(r.Context(), id)
	if err != nil {
		h.logger.Warn("last tracking lookup failed", "imei", id, "err", err)
		writeJSON(w, http.StatusBadGateway, dispatcher.ErrorResponse{Error: err.Error(), DeviceID: id})
		return
	}
	if len(fields) == 0 {
		writeJSON(w, http.StatusNotFound, dispatcher.ErrorResponse{Error: "no tracking stored", DeviceID: id})
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func writeError(w http.ResponseWriter, id string, err error) {
	writeJSON(w, dispatcher.StatusFor(err), dispatcher.ErrorResponse{Error: err.Error(), DeviceID: id})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
