// Package paymentcreate создаёт платёж ЮKassa на тариф и возвращает ссылку на оплату.
package paymentcreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/payment"
)

// Request запрос на создание платежа.
type Request struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	TariffID int64  `json:"tariff_id" validate:"required,gt=0"`
	ServerID *int64 `json:"server_id,omitempty" validate:"omitempty,gt=0"`
	Type     string `json:"type" validate:"omitempty,oneof=subscription gift"`
}

// Service создание платежа.
type Service interface {
	CreateCheckout(ctx context.Context, userID, tariffID int64, serverID *int64, kind string) (*payment.CheckoutResult, error)
}

// Handler обрабатывает запросы на создание платежа.
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
// @Summary Создать платёж
// @Description Создаёт платёж ЮKassa на тариф. Без server_id дни зачисляются в нераспределённые, type=gift выпускает подарочный код.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param request body Request true "Параметры покупки"
// @Success 200 {object} response.Response{data=payment.CheckoutResult}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Нет сервисного токена"
// @Failure 404 {object} response.ErrorResponse "Тариф не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 503 {object} response.ErrorResponse "Оплата картой не настроена"
// @Router /payments [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
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
	if req.Type == "" {
		req.Type = models.PaymentTypeSubscription
	}

	res, err := h.service.CreateCheckout(r.Context(), req.UserID, req.TariffID, req.ServerID, req.Type)
	switch {
	case err == nil:
	case errors.Is(err, payment.ErrCheckoutUnavailable):
		log.Warn("checkout requested but provider is not configured")
		response.Write(w, r, http.StatusServiceUnavailable, response.Error("card payments are unavailable"))
		return
	case errors.Is(err, payment.ErrInvalidPurchase):
		log.Warn("invalid purchase", sl.Err(err))
		response.Write(w, r, http.StatusUnprocessableEntity, response.Error(err.Error()))
		return
	default:
		log.Error("failed to create checkout", sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	log.Info("checkout created", sl.User(req.UserID), slog.String("payment_id", res.PaymentID))
	response.Write(w, r, http.StatusOK, response.StatusOKWithData(res))
}
