package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Cache  any    `json:"cache,omitempty"`
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (*Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "API Platzi Profile. Consulta: /api_profile/:username",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.stats != nil {
		resp.Cache = s.stats.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	username, err := url.PathUnescape(mux.Vars(r)["username"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Nombre de usuario inválido.")
		return
	}

	p, err := s.profiles.Profile(r.Context(), username)
	if err != nil {
		s.writeProfileError(w, r, username, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// writeProfileError maps aggregation errors to HTTP responses. Internal
// details are logged and never sent to the client.
func (s *Server) writeProfileError(w http.ResponseWriter, r *http.Request, username string, err error) {
	ctx := r.Context()

	var (
		notFound *profile.NotFoundError
		upErr    *profile.UpstreamError
	)
	switch {
	case errors.Is(err, profile.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Nombre de usuario inválido.")
	case errors.As(err, &notFound) && !notFound.Private:
		writeError(w, http.StatusNotFound, fmt.Sprintf("El usuario %q no existe en Platzi.", notFound.Username))
	case errors.Is(err, profile.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "Perfil privado o no encontrado.")
	case errors.As(err, &upErr):
		status := http.StatusBadGateway
		if upErr.StatusCode >= http.StatusBadRequest {
			status = upErr.StatusCode
		}
		s.logger.WarnContext(ctx, "upstream failure", "username", username, "error", err)
		writeError(w, status, "Error al contactar Platzi.")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.logger.DebugContext(ctx, "client went away", "username", username)
	default:
		s.logger.ErrorContext(ctx, "profile request failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Error interno del servidor.")
	}
}
