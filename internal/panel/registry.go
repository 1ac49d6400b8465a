package panel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
)

// Unsealer расшифровывает сохранённый пароль панели.
type Unsealer interface {
	Open(sealed string) (string, error)
}

// Registry хранит по одному клиенту на панель, чтобы сессии переиспользовались.
type Registry struct {
	opts     Options
	unsealer Unsealer
	log      *slog.Logger

	mu      sync.Mutex
	clients map[int64]*registryEntry
}

type registryEntry struct {
	client *Client
	apiURL string
	user   string
	secret string
}

// NewRegistry создаёт реестр клиентов. unsealer может быть nil, тогда
// пароль берётся как есть.
func NewRegistry(opts Options, unsealer Unsealer, log *slog.Logger) *Registry {
	return &Registry{
		opts:     opts,
		unsealer: unsealer,
		log:      log,
		clients:  make(map[int64]*registryEntry),
	}
}

// Client возвращает клиент для панели, создавая его при первом обращении
// или при смене учётных данных панели.
func (r *Registry) Client(p *models.Panel) (*Client, error) {
	const op = "panel.Registry.Client"

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.clients[p.ID]; ok && e.apiURL == p.APIURL && e.user == p.APIUser && e.secret == p.APIPassword {
		return e.client, nil
	}

	password := p.APIPassword
	if r.unsealer != nil {
		plain, err := r.unsealer.Open(p.APIPassword)
		if err != nil {
			return nil, fmt.Errorf("%s: panel %d: %w", op, p.ID, err)
		}
		password = plain
	}

	c, err := New(p.APIURL, p.APIUser, password, r.opts, r.log.With(slog.Int64("panel_id", p.ID)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	r.clients[p.ID] = &registryEntry{client: c, apiURL: p.APIURL, user: p.APIUser, secret: p.APIPassword}
	return c, nil
}
