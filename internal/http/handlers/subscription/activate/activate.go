// Package activate привязывает нераспределённые дни пользователя к серверу.
package activate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// Request пользователь и сервер.
type Request struct {
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
	ServerID int64 `json:"server_id" validate:"required,gt=0"`
}

// Service выдача доступа.
type Service interface {
	ActivateUnassigned(ctx context.Context, userID, serverID int64) (*models.Grant, error)
}

// Handler HTTP-обработчик.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Активировать нераспределённые дни
// @Description Переносит все нераспределённые дни на ключ выбранного сервера.
// @Tags Subscriptions
// @Accept  json
// @Produce  json
// @Param request body Request true "Пользователь и сервер"
// @Success 200 {object} response.Response{data=models.Grant}
// @Failure 404 {object} response.ErrorResponse "Пользователь или сервер не найден"
// @Failure 409 {object} response.ErrorResponse "Нет нераспределённых дней"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "Ошибка панели"
// @Router /subscriptions/activate [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.subscription.activate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		response.Write(w, r, http.StatusUnprocessableEntity, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	grant, err := h.service.ActivateUnassigned(r.Context(), req.UserID, req.ServerID)
	if err != nil {
		log.Error("failed to grant unassigned days", sl.User(req.UserID), sl.Panel(req.ServerID), sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	log.Info("unassigned days granted", sl.User(req.UserID), sl.Panel(req.ServerID))
	response.Write(w, r, http.StatusOK, response.StatusOKWithData(grant))
}
