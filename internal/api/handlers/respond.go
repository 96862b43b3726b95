package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opshift/ragrelay/internal/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errStatus maps the pipeline error taxonomy onto HTTP. Anything outside
// the taxonomy is a plain 500 with no internals leaked.
func errStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := errStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
}
