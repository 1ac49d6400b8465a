// Package scheduler сверяет сроки действия ключей: напоминает об окончании
// и отключает истёкшие ключи на панелях.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/metrics"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/panel"
)

const (
	sweepReminder     = "reminder"
	sweepDeactivation = "deactivation"
)

// errSkipped строка уже не подходит под проход (ключ продлён или отключён).
var errSkipped = errors.New("row no longer eligible")

// Repository выборки и изменения ключей для сверки.
type Repository interface {
	ListExpiringCredentials(ctx context.Context, from, to time.Time, lookahead time.Duration) ([]models.ExpiringCredential, error)
	ListExpiredCredentials(ctx context.Context, now time.Time) ([]models.ExpiringCredential, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
	LockExpiredCredential(ctx context.Context, id int64, now time.Time) (*models.Credential, error)
	DeactivateCredential(ctx context.Context, id int64, now time.Time) error
	GetPanel(ctx context.Context, id int64) (*models.Panel, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PanelClient удаление клиента на панели.
type PanelClient interface {
	DeleteCredential(ctx context.Context, inboundID int, credentialID string) error
}

// ClientFactory возвращает клиент для панели.
type ClientFactory func(p *models.Panel) (PanelClient, error)

// RegistryClients адаптирует panel.Registry к ClientFactory.
func RegistryClients(r *panel.Registry) ClientFactory {
	return func(p *models.Panel) (PanelClient, error) {
		c, err := r.Client(p)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Notifier публикует уведомления пользователям.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Locker не даёт двум экземплярам сверки работать одновременно.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Settings параметры сверки.
type Settings struct {
	ReminderSpec     string
	DeactivationSpec string
	Lookahead        time.Duration
	Window           time.Duration
	Workers          int
	LockTTL          time.Duration
}

// Result итог одного прохода.
type Result struct {
	Total   int
	Done    int
	Skipped int
	Failed  int
}

// Reconciler выполняет проходы напоминаний и деактивации.
type Reconciler struct {
	repo     Repository
	clients  ClientFactory
	notifier Notifier
	locker   Locker
	settings Settings
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт Reconciler. locker может быть nil.
func New(repo Repository, clients ClientFactory, notifier Notifier, locker Locker, settings Settings, log *slog.Logger) *Reconciler {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 30 * time.Minute
	}
	return &Reconciler{
		repo:     repo,
		clients:  clients,
		notifier: notifier,
		locker:   locker,
		settings: settings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start регистрирует проходы в cron (UTC) и блокируется до отмены ctx.
func (r *Reconciler) Start(ctx context.Context) error {
	const op = "scheduler.Start"

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(r.settings.ReminderSpec, func() { r.runLogged(ctx, sweepReminder, r.RunReminderSweep) }); err != nil {
		return fmt.Errorf("%s: reminder spec: %w", op, err)
	}
	if _, err := c.AddFunc(r.settings.DeactivationSpec, func() { r.runLogged(ctx, sweepDeactivation, r.RunDeactivationSweep) }); err != nil {
		return fmt.Errorf("%s: deactivation spec: %w", op, err)
	}

	r.log.Info("reconciler started",
		slog.String("reminder_spec", r.settings.ReminderSpec),
		slog.String("deactivation_spec", r.settings.DeactivationSpec),
		slog.Int("workers", r.settings.Workers))
	c.Start()
	<-ctx.Done()

	// ждём завершения текущего прохода
	<-c.Stop().Done()
	r.log.Info("reconciler stopped")
	return nil
}

func (r *Reconciler) runLogged(ctx context.Context, sweep string, run func(context.Context) (Result, error)) {
	res, err := run(ctx)
	if err != nil {
		r.log.Error("sweep failed", slog.String("sweep", sweep), sl.Err(err))
		return
	}
	r.log.Info("sweep finished", slog.String("sweep", sweep),
		slog.Int("total", res.Total), slog.Int("done", res.Done),
		slog.Int("skipped", res.Skipped), slog.Int("failed", res.Failed))
}

// withLock выполняет fn, если блокировка sweep свободна. Без locker выполняет всегда.
func (r *Reconciler) withLock(ctx context.Context, sweep string, fn func() (Result, error)) (Result, error) {
	if r.locker == nil {
		return fn()
	}
	key := "lock:sweep:" + sweep
	ok, err := r.locker.TryLock(ctx, key, r.settings.LockTTL)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		r.log.Info("sweep already running elsewhere", slog.String("sweep", sweep))
		return Result{}, nil
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			r.log.Warn("failed to release sweep lock", slog.String("sweep", sweep), sl.Err(err))
		}
	}()
	return fn()
}

// RunReminderSweep уведомляет владельцев ключей, истекающих в окне
// [now+lookahead-window, now+lookahead), и помечает их напомненными.
// Ошибка по одной строке не прерывает проход.
func (r *Reconciler) RunReminderSweep(ctx context.Context) (Result, error) {
	const op = "scheduler.RunReminderSweep"

	return r.withLock(ctx, sweepReminder, func() (Result, error) {
		now := r.now()
		to := now.Add(r.settings.Lookahead)
		from := to.Add(-r.settings.Window)

		rows, err := r.repo.ListExpiringCredentials(ctx, from, to, r.settings.Lookahead)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		return r.fanOut(ctx, sweepReminder, rows, func(ctx context.Context, row models.ExpiringCredential) error {
			return r.remind(ctx, row, now)
		}), nil
	})
}

func (r *Reconciler) remind(ctx context.Context, row models.ExpiringCredential, now time.Time) error {
	expires := row.ExpiresAt
	err := r.notifier.Notify(ctx, models.Notification{
		Kind:      models.NotificationExpiring,
		UserID:    row.UserID,
		PanelName: row.PanelName,
		ExpiresAt: &expires,
	})
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err = r.repo.MarkReminded(ctx, row.ID, now); err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

// RunDeactivationSweep удаляет истёкшие ключи с панелей и помечает их
// неактивными. Если панель недоступна, ключ остаётся активным до следующего прохода.
// Каждая строка перепроверяется под блокировкой: ключ, продлённый после
// выборки, пропускается.
func (r *Reconciler) RunDeactivationSweep(ctx context.Context) (Result, error) {
	const op = "scheduler.RunDeactivationSweep"

	return r.withLock(ctx, sweepDeactivation, func() (Result, error) {
		now := r.now()
		rows, err := r.repo.ListExpiredCredentials(ctx, now)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
		return r.fanOut(ctx, sweepDeactivation, rows, func(ctx context.Context, row models.ExpiringCredential) error {
			return r.deactivate(ctx, row, now)
		}), nil
	})
}

func (r *Reconciler) deactivate(ctx context.Context, row models.ExpiringCredential, now time.Time) error {
	p, err := r.repo.GetPanel(ctx, row.ServerID)
	if err != nil {
		return fmt.Errorf("get panel: %w", err)
	}
	client, err := r.clients(p)
	if err != nil {
		return fmt.Errorf("panel client: %w", err)
	}

	// строка заблокирована до конца транзакции, Grant на ней ждёт
	err = r.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := r.repo.LockExpiredCredential(ctx, row.ID, now)
		if errors.Is(err, models.ErrNotFound) {
			return errSkipped
		}
		if err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		err = client.DeleteCredential(ctx, p.InboundID, cur.CredentialID)
		if err != nil && !panel.IsNotFound(err) {
			return fmt.Errorf("delete on panel: %w", err)
		}
		if err = r.repo.DeactivateCredential(ctx, cur.ID, now); err != nil {
			return fmt.Errorf("deactivate: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	expires := row.ExpiresAt
	if err = r.notifier.Notify(ctx, models.Notification{
		Kind:      models.NotificationExpired,
		UserID:    row.UserID,
		PanelName: row.PanelName,
		ExpiresAt: &expires,
	}); err != nil {
		r.log.Error("failed to publish expiry notification", sl.User(row.UserID), sl.Err(err))
	}
	return nil
}

// fanOut обрабатывает строки не более чем settings.Workers горутинами.
func (r *Reconciler) fanOut(ctx context.Context, sweep string, rows []models.ExpiringCredential,
	handle func(context.Context, models.ExpiringCredential) error) Result {
	var done, skipped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.settings.Workers)
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := handle(ctx, row)
			if errors.Is(err, errSkipped) {
				metrics.SweepRows.WithLabelValues(sweep, "skipped").Inc()
				skipped.Add(1)
				r.log.Info("sweep row skipped", slog.String("sweep", sweep),
					slog.Int64("credential_id", row.ID), sl.User(row.UserID))
				return nil
			}
			metrics.SweepRows.WithLabelValues(sweep, metrics.Outcome(err)).Inc()
			if err != nil {
				failed.Add(1)
				r.log.Error("sweep row failed", slog.String("sweep", sweep),
					slog.Int64("credential_id", row.ID), sl.User(row.UserID), sl.Panel(row.ServerID), sl.Err(err))
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return Result{
		Total:   len(rows),
		Done:    int(done.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
}
