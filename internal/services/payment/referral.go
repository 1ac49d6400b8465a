package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// Referral параметры реферальной программы для приглашённых.
type Referral struct {
	// JoinBonus зачисляется приглашённому на реферальный баланс при привязке, в копейках.
	JoinBonus int64
}

// BindResult итог привязки пригласившего.
type BindResult struct {
	Bound      bool  `json:"bound"`
	ReferrerID int64 `json:"referrer_id,omitempty"`
	Bonus      int64 `json:"bonus,omitempty"`
}

// EnsureReferralCode возвращает реферальный код пользователя, выпуская его при первом запросе.
func (s *Service) EnsureReferralCode(ctx context.Context, userID int64) (string, error) {
	const op = "payment.EnsureReferralCode"

	if err := s.repo.CreateUser(ctx, userID, nil); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if user.ReferralCode != nil && *user.ReferralCode != "" {
		return *user.ReferralCode, nil
	}

	for range codeAttempts {
		code, err := newCode()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		got, err := s.repo.SetReferralCode(ctx, userID, code)
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if got == code {
			s.log.Info("referral code issued", sl.User(userID))
		}
		return got, nil
	}
	return "", fmt.Errorf("%s: referral code collision after %d attempts", op, codeAttempts)
}

// BindReferrer привязывает владельца кода как пригласившего. Привязка
// делается один раз: повторный вызов возвращает Bound=false без изменений.
// Свой код и код собственного приглашённого отклоняются с models.ErrSelfReferral.
func (s *Service) BindReferrer(ctx context.Context, userID int64, code string) (*BindResult, error) {
	const op = "payment.BindReferrer"

	code = strings.ToUpper(strings.TrimSpace(code))
	res := &BindResult{}
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateUser(ctx, userID, nil); err != nil {
			return err
		}
		user, err := s.repo.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.ReferrerID != nil {
			return nil
		}
		referrer, err := s.repo.GetUserByReferralCode(ctx, code)
		if err != nil {
			return err
		}
		if referrer.TelegramID == userID ||
			(referrer.ReferrerID != nil && *referrer.ReferrerID == userID) {
			return models.ErrSelfReferral
		}

		res.Bound, err = s.repo.BindReferrer(ctx, userID, referrer.TelegramID, s.referral.JoinBonus)
		if err != nil {
			return err
		}
		if res.Bound {
			res.ReferrerID = referrer.TelegramID
			res.Bonus = s.referral.JoinBonus
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if res.Bound {
		s.log.Info("referrer bound", sl.User(userID),
			slog.Int64("referrer_id", res.ReferrerID), slog.Int64("bonus", res.Bonus))
	}
	return res, nil
}
