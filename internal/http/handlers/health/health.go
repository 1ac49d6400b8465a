// Package health отвечает на проверку готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

// Pinger проверка соединения с базой.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler обработчик /health.
type Handler struct {
	log *slog.Logger
	db  Pinger
}

// New создаёт Handler.
func New(log *slog.Logger, db Pinger) *Handler {
	return &Handler{
		log: log,
		db:  db,
	}
}

// ServeHTTP godoc
// @Summary Проверка готовности
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.ErrorResponse "База недоступна"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Error("health check failed", sl.Err(err))
		response.Write(w, r, http.StatusServiceUnavailable, response.Error("database unavailable"))
		return
	}
	response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]string{"status": "ok"}))
}
