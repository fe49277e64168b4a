package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes the §6 error envelope {code, message}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.APIError{Code: code, Message: message})
}

// writeServiceError translates a collaborator error into the matching
// client error code and HTTP status (§7), falling back to a 500 for
// anything not in the sentinel table.
func writeServiceError(w http.ResponseWriter, err error) {
	if code, ok := config.CodeForError(err); ok {
		writeError(w, statusForCode(code), code, err.Error())
		return
	}
	slog.Error("internal error", "error", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// statusForCode maps an error code to its HTTP status per §6/§7: 401 for
// NOT_AUTHORIZED, 400 for every other named client error.
func statusForCode(code string) int {
	if code == config.ErrorNotAuthorized {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// decodeJSON reads and JSON-decodes the request body into v, rejecting
// unknown fields and a body that exceeds what BodyLimit already capped.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseIntParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseBoolParam(r *http.Request, key string) bool {
	return r.URL.Query().Get(key) == "true"
}
