// Package api exposes the bridge to a local UI over HTTP.
//
//	GET    /health          liveness
//	GET    /sessions        session list with metadata
//	POST   /pair            {"uri":"wc:..."}
//	DELETE /sessions/{id}   id is path-escaped (legacy ids are full URIs)
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/isabella232/mech/bridge"
	"github.com/isabella232/mech/protocol"
	"github.com/isabella232/mech/session"
)

// Bridge is the part of *bridge.Bridge the router drives.
type Bridge interface {
	Pair(ctx context.Context, uri string) error
	Disconnect(ctx context.Context, id string) error
	Sessions() []session.WithMetadata
}

type PairRequest struct {
	URI string `json:"uri"`
}

type errorBody struct {
	Error string `json:"error"`
}

func NewRouter(b Bridge, log zerolog.Logger) *mux.Router {
	h := &handlers{bridge: b, log: log.With().Str("component", "api").Logger()}

	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			h.log.Debug().Err(err).Msg("Health write failed")
		}
	}).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/pair", h.pair).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.disconnect).Methods(http.MethodDelete)
	return r
}

type handlers struct {
	bridge Bridge
	log    zerolog.Logger
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	list := h.bridge.Sessions()
	if list == nil {
		list = []session.WithMetadata{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) pair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	if req.URI == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "uri required"})
		return
	}
	if err := h.bridge.Pair(r.Context(), req.URI); err != nil {
		h.log.Warn().Err(err).Msg("Pair request failed")
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(mux.Vars(r)["id"])
	if err != nil || id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid session id"})
		return
	}
	if err := h.bridge.Disconnect(r.Context(), id); err != nil {
		h.log.Warn().Err(err).Str("session", id).Msg("Disconnect request failed")
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrModernDisconnect):
		return http.StatusNotImplemented
	case errors.Is(err, bridge.ErrShuttingDown), errors.Is(err, bridge.ErrNotStarted), errors.Is(err, bridge.ErrModernUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrInvalidScheme), errors.Is(err, protocol.ErrMissingTopic), errors.Is(err, protocol.ErrMissingVersion):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
