// Package referralbind привязывает пригласившего по реферальному коду.
package referralbind

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/payment"
)

// Request запрос на привязку.
type Request struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Code   string `json:"code" validate:"required,min=4,max=16"`
}

// Service привязка пригласившего.
type Service interface {
	BindReferrer(ctx context.Context, userID int64, code string) (*payment.BindResult, error)
}

// Handler обрабатывает привязку по реферальному коду.
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
// @Summary Привязать пригласившего
// @Description Привязывает владельца кода как пригласившего и начисляет стартовый бонус. Повторная привязка не меняет данных.
// @Tags Referrals
// @Accept  json
// @Produce  json
// @Param request body Request true "Код и пользователь"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Код не найден"
// @Failure 422 {object} response.ErrorResponse "Свой код или ошибка валидации"
// @Router /referrals/bind [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.referral.bind"
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

	res, err := h.service.BindReferrer(r.Context(), req.UserID, req.Code)
	if err != nil {
		log.Warn("failed to bind referrer", sl.User(req.UserID), sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	response.Write(w, r, http.StatusOK, response.StatusOKWithData(res))
}
