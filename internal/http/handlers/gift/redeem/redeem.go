// Package redeem активирует подарочный код.
package redeem

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

// Request запрос на активацию кода.
type Request struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Code   string `json:"code" validate:"required,min=4,max=32"`
}

// Service активация кода.
type Service interface {
	RedeemGift(ctx context.Context, code string, userID int64) (int, error)
}

// Handler обрабатывает активацию подарочных кодов.
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
// @Summary Активировать подарочный код
// @Description Зачисляет дни тарифа кода в нераспределённые дни пользователя.
// @Tags Gifts
// @Accept  json
// @Produce  json
// @Param request body Request true "Код и пользователь"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse "Код не найден или уже использован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /gifts/redeem [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.gift.redeem"
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

	days, err := h.service.RedeemGift(r.Context(), req.Code, req.UserID)
	if err != nil {
		log.Warn("failed to redeem gift", sl.User(req.UserID), sl.Err(err))
		status, msg := response.StatusFor(err)
		response.Write(w, r, status, response.Error(msg))
		return
	}

	response.Write(w, r, http.StatusOK, response.StatusOKWithData(map[string]int{"days": days}))
}
