// Package sender доставляет уведомления из очереди пользователям и операторам через Telegram.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

const dateLayout = "02.01.2006"

// Transport отправка сообщения в чат. Реализуется *tele.Bot.
type Transport interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Service формирует текст уведомления и отправляет его.
type Service struct {
	transport Transport
	adminIDs  []int64
	log       *slog.Logger
}

// NewService создаёт Service. adminIDs получают уведомления о платежах, требующих внимания.
func NewService(transport Transport, adminIDs []int64, log *slog.Logger) *Service {
	return &Service{
		transport: transport,
		adminIDs:  adminIDs,
		log:       log,
	}
}

// HandleUser обрабатывает сообщение очереди notification.user.
func (s *Service) HandleUser(ctx context.Context, body []byte) error {
	const op = "sender.HandleUser"

	n, err := decode(body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	text, err := Render(n)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = s.send(ctx, n.UserID, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("notification delivered", slog.String("kind", n.Kind), sl.User(n.UserID))
	return nil
}

// HandleAttention рассылает уведомление операторам. Сообщение считается
// доставленным, если его получил хотя бы один оператор.
func (s *Service) HandleAttention(ctx context.Context, body []byte) error {
	const op = "sender.HandleAttention"

	n, err := decode(body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(s.adminIDs) == 0 {
		s.log.Warn("no operators configured, dropping attention notification",
			slog.String("payment_id", n.PaymentID), sl.User(n.UserID))
		return nil
	}

	text := renderAttention(n)
	var errs []error
	for _, id := range s.adminIDs {
		if err := s.send(ctx, id, text); err != nil {
			s.log.Error("failed to notify operator", slog.Int64("admin_id", id), sl.Err(err))
			errs = append(errs, err)
		}
	}
	if len(errs) == len(s.adminIDs) {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return nil
}

func decode(body []byte) (models.Notification, error) {
	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, fmt.Errorf("%w: %v", rabbitmq.ErrReject, err)
	}
	if n.UserID == 0 {
		return n, fmt.Errorf("%w: empty user id", rabbitmq.ErrReject)
	}
	return n, nil
}

func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.transport.Send(tele.ChatID(chatID), text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err == nil {
		return nil
	}
	// повторная доставка таким пользователям бесполезна
	if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return fmt.Errorf("%w: %v", rabbitmq.ErrReject, err)
	}
	return err
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func onPanel(name string) string {
	if name == "" {
		return ""
	}
	return " на сервере " + html.EscapeString(name)
}

// Render возвращает текст уведомления пользователю в разметке HTML.
func Render(n models.Notification) (string, error) {
	var b strings.Builder

	switch n.Kind {
	case models.NotificationKeyIssued:
		fmt.Fprintf(&b, "✅ Доступ%s активен", onPanel(n.PanelName))
		if n.ExpiresAt != nil {
			fmt.Fprintf(&b, " до %s", formatDate(n.ExpiresAt))
		}
		b.WriteString(".\n\nВаш ключ:\n")
		fmt.Fprintf(&b, "<code>%s</code>", html.EscapeString(n.URI))

	case models.NotificationDaysReserved:
		if n.Reason == "provisioning_failed" {
			b.WriteString("⚠️ Оплата получена, но выдать ключ автоматически не удалось.\n")
		}
		fmt.Fprintf(&b, "На ваш счёт зачислено %d дн. Выберите сервер в меню, чтобы активировать их.", n.Days)

	case models.NotificationGiftPurchased:
		fmt.Fprintf(&b, "🎁 Подарочный код на %d дн.:\n<code>%s</code>\n\nПередайте его получателю.",
			n.Days, html.EscapeString(n.GiftCode))

	case models.NotificationExpiring:
		fmt.Fprintf(&b, "⏳ Срок действия ключа%s истекает %s. Продлите подписку, чтобы не потерять доступ.",
			onPanel(n.PanelName), formatDate(n.ExpiresAt))

	case models.NotificationExpired:
		fmt.Fprintf(&b, "❌ Срок действия ключа%s истёк, доступ отключён. Продлите подписку, чтобы подключиться снова.",
			onPanel(n.PanelName))

	default:
		return "", fmt.Errorf("%w: unknown notification kind %q", rabbitmq.ErrReject, n.Kind)
	}
	return b.String(), nil
}

func renderAttention(n models.Notification) string {
	return fmt.Sprintf("⚠️ Платёж <code>%s</code> пользователя <code>%d</code> требует ручной обработки.\nПричина: %s",
		html.EscapeString(n.PaymentID), n.UserID, html.EscapeString(n.Reason))
}
