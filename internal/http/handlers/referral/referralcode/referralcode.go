// Package referralcode выдаёт пользователю его реферальный код.
package referralcode

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

// Request запрос кода.
type Request struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

// Service выпуск реферального кода.
type Service interface {
	EnsureReferralCode(ctx context.Context, userID int64) (string, error)
}

// Handler обрабатывает запросы реферального кода.
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
// @Summary Получить реферальный код
// @Description Возвращает реферальный код пользователя, при первом запросе выпускает новый.
// @Tags Referrals
// @Accept  json
// @Produce  json
// @Param request body Request true "Пользователь"
// @Success 200 {object} response.Response
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /referrals/code [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.referral.code"
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

	code, err := h.service.EnsureReferralCode(r.Context(), req.UserID)
	if err != nil {
		log.Error("failed to issue referral code", sl.User(req.UserID), sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]string{"code": code}))
}
