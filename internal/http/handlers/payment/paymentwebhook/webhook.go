// Package paymentwebhook принимает уведомления ЮKassa о смене статуса платежа.
// Подпись и адрес отправителя проверяются до разбора тела.
package paymentwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/http/response"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

const maxBodyBytes = 1 << 20

// События, которые меняют состояние платежа.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

// Processor применяет смену статуса платежа.
type Processor interface {
	Handle(ctx context.Context, eventID, newStatus string) error
}

// Handler обработчик уведомлений.
type Handler struct {
	log       *slog.Logger
	processor Processor
	verifier  *Verifier
	validate  *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, processor Processor, verifier *Verifier) *Handler {
	return &Handler{
		log:       log,
		processor: processor,
		verifier:  verifier,
		validate:  validator.New(),
	}
}

// Payload тело уведомления. Из объекта платежа используется только ID.
type Payload struct {
	Type   string `json:"type"`
	Event  string `json:"event" validate:"required,oneof=payment.succeeded payment.canceled"`
	Object struct {
		ID       string            `json:"id" validate:"required"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

var eventStatus = map[string]string{
	EventPaymentSucceeded: models.PaymentStatusSucceeded,
	EventPaymentCanceled:  models.PaymentStatusCanceled,
}

// ServeHTTP godoc
// @Summary Уведомление ЮKassa
// @Description Принимает payment.succeeded и payment.canceled. Остальные события подтверждаются без обработки.
// @Tags Payments
// @Accept  json
// @Produce  json
// @Param X-Yookassa-Signature header string true "t=<unix>,v1=<hex hmac>"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 403 {object} response.ErrorResponse "Адрес не из доверенного списка"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка обработки, провайдер повторит"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	if err = h.verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
		log.Warn("rejected webhook", sl.Err(err))
		response.Write(w, r, http.StatusUnauthorized, response.Error(ErrSignatureInvalid.Error()))
		return
	}

	var payload Payload
	if err = json.Unmarshal(body, &payload); err != nil {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	status, known := eventStatus[payload.Event]
	if !known {
		log.Info("ignored webhook event", slog.String("event", payload.Event))
		response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]string{"result": "ignored"}))
		return
	}

	if err = h.validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Error("webhook validation failed", sl.Err(err))
			response.Write(w, r, http.StatusUnprocessableEntity, response.ValidationError(verrs))
			return
		}
		log.Error("webhook validation error", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request body"))
		return
	}

	log = log.With(slog.String("event", payload.Event), slog.String("payment_id", payload.Object.ID))
	if err = h.processor.Handle(r.Context(), payload.Object.ID, status); err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error("internal error"))
		return
	}

	log.Info("webhook processed")
	response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]string{"result": "processed"}))
}
