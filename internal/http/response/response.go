// Package response формирует JSON-ответы HTTP-обработчиков в едином формате
// и переводит доменные ошибки в HTTP-статусы.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/panel"
)

// Response стандартная структура ответа: Status "OK" или "Error",
// Error при неуспехе, Data при успехе.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse структура ошибки для Swagger-документации.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
}

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError собирает нарушения валидации в одну строку через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		case "gt", "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// Write отправляет ответ с кодом status.
func Write(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// StatusFor возвращает HTTP-код и текст для доменной ошибки.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, models.ErrAlreadyProvisioned):
		return http.StatusConflict, "already provisioned"
	case errors.Is(err, models.ErrNothingToActivate):
		return http.StatusConflict, "nothing to activate"
	case errors.Is(err, models.ErrSelfReferral):
		return http.StatusUnprocessableEntity, "cannot use own referral code"
	case errors.Is(err, models.ErrPanelUnavailable):
		return http.StatusServiceUnavailable, "server unavailable"
	case errors.Is(err, panel.ErrTransient), errors.Is(err, panel.ErrAuth), errors.Is(err, panel.ErrProtocol):
		return http.StatusBadGateway, "vpn server error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
