// Package paymentbalance оплачивает тариф с реферального баланса.
package paymentbalance

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

// Request запрос на оплату с баланса.
type Request struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	TariffID int64  `json:"tariff_id" validate:"required,gt=0"`
	ServerID *int64 `json:"server_id,omitempty" validate:"omitempty,gt=0"`
}

// Service оплата с баланса.
type Service interface {
	PayFromBalance(ctx context.Context, userID, tariffID int64, serverID *int64) (string, error)
}

// Handler обрабатывает оплату с баланса.
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
// @Summary Оплатить с реферального баланса
// @Description Списывает цену тарифа сначала с баланса первого уровня, остаток со второго.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Параметры покупки"
// @Success 200 {object} response.Response
// @Failure 402 {object} response.ErrorResponse "Недостаточно средств"
// @Failure 404 {object} response.ErrorResponse "Пользователь или тариф не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /payments/balance [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.balance"
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

	id, err := h.service.PayFromBalance(r.Context(), req.UserID, req.TariffID, req.ServerID)
	if err != nil {
		log.Error("failed to pay from balance", sl.User(req.UserID), sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	log.Info("paid from balance", sl.User(req.UserID), slog.String("payment_id", id))
	response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]string{"payment_id": id}))
}
