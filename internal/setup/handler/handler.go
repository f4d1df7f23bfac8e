// Package handler exposes setup sessions, the dataset list and vector
// renders over HTTP and websocket.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"latentsetup/internal/setup/repository/latent"
	renderrepo "latentsetup/internal/setup/repository/render"
	"latentsetup/internal/setup/service/session"
	"latentsetup/internal/vecvis"
)

const maxBodyBytes = 8 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handler: encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Printf("handler: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "invalid_argument"})
}

// statusOf maps service errors to an HTTP status and a short code shared
// with the websocket error messages.
func statusOf(err error) (int, string) {
	var apiErr *latent.APIError
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, renderrepo.ErrNotFound),
		errors.Is(err, latent.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrUnknownColumn),
		errors.Is(err, session.ErrUnknownLayer),
		errors.Is(err, session.ErrNoCluster),
		errors.Is(err, session.ErrInvalidArtifact),
		errors.Is(err, vecvis.ErrBoundsLength),
		errors.Is(err, vecvis.ErrTooLarge):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, session.ErrNoDataset),
		errors.Is(err, session.ErrIncompleteTuple):
		return http.StatusConflict, "failed_precondition"
	case errors.Is(err, session.ErrNavigatedAway):
		return http.StatusConflict, "aborted"
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, "closed"
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "backend"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json body")
		return false
	}
	return true
}
