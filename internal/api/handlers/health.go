package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
)

// HealthHandler handles GET <basePath>/health. Not part of §6's endpoint table —
// an ambient operations concern every deployed service carries regardless.
func HealthHandler(cfg *config.Config, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"network": cfg.NetworkName(),
		})
	}
}
