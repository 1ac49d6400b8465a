// Package panel реализует клиент API панели 3x-ui: авторизация по cookie,
// чтение inbound, добавление, продление и удаление клиентов.
//
// Все вызовы повторяются с фиксированной задержкой только при сетевых сбоях.
// Ошибки, о которых сообщила сама панель, возвращаются сразу как *Error.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/metrics"
)

const bytesInGB = 1024 * 1024 * 1024

// Options параметры клиента панели.
type Options struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Flow          string
	LimitIP       int
	Transport     http.RoundTripper
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
}

// Client клиент одной панели. Сессия (cookie) принадлежит экземпляру.
type Client struct {
	baseURL  string
	username string
	password string
	opts     Options
	http     *http.Client
	log      *slog.Logger

	mu            sync.Mutex
	authenticated bool
}

// New создаёт клиент панели. baseURL включает web base path панели, если он задан.
func New(baseURL, username, password string, opts Options, log *slog.Logger) (*Client, error) {
	const op = "panel.New"

	opts.setDefaults()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w", op, err)
	}

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		opts:     opts,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Jar:       jar,
			Transport: opts.Transport,
			// редирект на страницу логина означает протухшую сессию
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log.With(slog.String("panel", baseURL)),
	}, nil
}

// Authenticate выполняет вход и сохраняет cookie сессии.
func (c *Client) Authenticate(ctx context.Context) error {
	const op = "panel.Authenticate"

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	_, err := c.doWithRetry(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && pe.Kind == ErrProtocol {
			// success:false на /login означает неверные учётные данные
			pe.Kind = ErrAuth
		}
		return err
	}

	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	c.log.Debug("panel session established")
	return nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	ok := c.authenticated
	c.mu.Unlock()
	if ok {
		return nil
	}
	return c.Authenticate(ctx)
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()
}

// call выполняет авторизованный запрос. При ошибке авторизации один раз
// перелогинивается и повторяет вызов.
func (c *Client) call(ctx context.Context, op string, build func() (*http.Request, error)) (json.RawMessage, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	obj, err := c.doWithRetry(ctx, op, build)
	if err == nil || !errors.Is(err, ErrAuth) {
		return obj, err
	}

	c.log.Info("panel session rejected, re-authenticating", sl.Op(op))
	c.invalidate()
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, op, build)
}

// doWithRetry отправляет запрос, повторяя его только при сетевых сбоях.
func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error)) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		metrics.PanelLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(c.opts.RetryAttempts-1)),
		ctx,
	)

	var obj json.RawMessage
	operation := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(newError(ErrProtocol, op, "build request", err))
		}
		res, err := c.do(req, op)
		if err != nil {
			if errors.Is(err, ErrTransient) && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		obj = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("panel request failed, retrying", sl.Op(op), sl.Err(err), slog.Duration("wait", wait))
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			// контекст отменён во время ожидания между попытками
			err = newError(ErrTransient, op, "", err)
		}
		metrics.PanelRequests.WithLabelValues(op, kindLabel(err)).Inc()
		return nil, err
	}
	metrics.PanelRequests.WithLabelValues(op, "ok").Inc()
	return obj, nil
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(ErrTransient, op, "", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrTransient, op, "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, newError(ErrAuth, op, resp.Status, nil)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return nil, newError(ErrAuth, op, "redirected to "+resp.Header.Get("Location"), nil)
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, newError(ErrTransient, op, resp.Status, nil)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, newError(ErrAuth, op, "empty response body", nil)
	}

	var env apiResponse
	if err := json.Unmarshal(trimmed, &env); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			// панель скрывает API за 404 для неавторизованных запросов
			return nil, newError(ErrAuth, op, resp.Status, nil)
		}
		return nil, newError(ErrProtocol, op, fmt.Sprintf("status %d, non-json body", resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(ErrProtocol, op, fmt.Sprintf("status %d: %s", resp.StatusCode, env.Msg), nil)
	}
	if !env.Success {
		return nil, newError(classifyMsg(env.Msg), op, env.Msg, nil)
	}
	return env.Obj, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func (c *Client) getInbound(ctx context.Context, op string, inboundID int) (*inbound, error) {
	obj, err := c.call(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/panel/api/inbounds/get/%d", c.baseURL, inboundID), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	norm, err := normalize(obj)
	if err != nil {
		return nil, newError(ErrProtocol, op, "inbound object", err)
	}
	var in inbound
	if err := json.Unmarshal(norm, &in); err != nil {
		return nil, newError(ErrProtocol, op, "inbound object", err)
	}
	if in.ID == 0 {
		return nil, newError(ErrNotFound, op, fmt.Sprintf("inbound %d", inboundID), nil)
	}
	return &in, nil
}

// GetProfile возвращает конфигурацию inbound для построения ссылки.
func (c *Client) GetProfile(ctx context.Context, inboundID int) (*Profile, error) {
	const op = "panel.GetProfile"

	in, err := c.getInbound(ctx, op, inboundID)
	if err != nil {
		return nil, err
	}
	p, err := parseProfile(in)
	if err != nil {
		return nil, newError(ErrProtocol, op, "parse profile", err)
	}
	return p, nil
}

func (c *Client) newEntry(credentialID, ownerLabel string, expiry time.Time, trafficCapBytes int64) map[string]any {
	return map[string]any{
		"id":         credentialID,
		"email":      ownerLabel,
		"flow":       c.opts.Flow,
		"limitIp":    c.opts.LimitIP,
		"totalGB":    trafficCapBytes,
		"expiryTime": expiry.UnixMilli(),
		"enable":     true,
		"tgId":       "",
		"subId":      "",
		"reset":      0,
	}
}

func settingsPayload(inboundID int, clients []map[string]any) (map[string]any, error) {
	settings, err := json.Marshal(map[string]any{"clients": clients})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       inboundID,
		"settings": string(settings),
	}, nil
}

// AddCredential создаёт клиента на панели.
func (c *Client) AddCredential(ctx context.Context, inboundID int, credentialID, ownerLabel string, expiry time.Time, trafficCapBytes int64) error {
	const op = "panel.AddCredential"

	payload, err := settingsPayload(inboundID, []map[string]any{
		c.newEntry(credentialID, ownerLabel, expiry, trafficCapBytes),
	})
	if err != nil {
		return newError(ErrProtocol, op, "encode settings", err)
	}
	if _, err := c.call(ctx, op, c.postJSON(ctx, "/panel/api/inbounds/addClient", payload)); err != nil {
		return err
	}
	c.log.Info("credential added", slog.String("credential_id", credentialID), slog.Int("inbound_id", inboundID))
	return nil
}

// ExtendCredential продлевает клиента. API не умеет частичное обновление,
// поэтому читается весь список клиентов, меняется только нужная запись,
// и список отправляется целиком.
func (c *Client) ExtendCredential(ctx context.Context, inboundID int, credentialID string, newExpiry time.Time, newTrafficCapBytes *int64) error {
	const op = "panel.ExtendCredential"

	in, err := c.getInbound(ctx, op, inboundID)
	if err != nil {
		return err
	}
	settings, err := decodeSettings(in.Settings)
	if err != nil {
		return newError(ErrProtocol, op, "decode settings", err)
	}
	clients, err := clientList(settings)
	if err != nil {
		return newError(ErrProtocol, op, "decode clients", err)
	}

	found := false
	for _, cl := range clients {
		if id, _ := cl["id"].(string); id == credentialID {
			cl["expiryTime"] = newExpiry.UnixMilli()
			cl["enable"] = true
			if newTrafficCapBytes != nil {
				cl["totalGB"] = *newTrafficCapBytes
			}
			found = true
			break
		}
	}
	if !found {
		return newError(ErrNotFound, op, fmt.Sprintf("client %s in inbound %d", credentialID, inboundID), nil)
	}

	payload, err := settingsPayload(inboundID, clients)
	if err != nil {
		return newError(ErrProtocol, op, "encode settings", err)
	}
	path := "/panel/api/inbounds/updateClient/" + url.PathEscape(credentialID)
	if _, err := c.call(ctx, op, c.postJSON(ctx, path, payload)); err != nil {
		return err
	}
	c.log.Info("credential extended", slog.String("credential_id", credentialID), slog.Time("expires_at", newExpiry))
	return nil
}

// DeleteCredential удаляет клиента. Отсутствие клиента возвращается как ErrNotFound.
func (c *Client) DeleteCredential(ctx context.Context, inboundID int, credentialID string) error {
	const op = "panel.DeleteCredential"

	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, url.PathEscape(credentialID))
	_, err := c.call(ctx, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	c.log.Info("credential deleted", slog.String("credential_id", credentialID))
	return nil
}

// GBToBytes переводит лимит трафика из гигабайт в байты.
// Отрицательный лимит даёт 0, слишком большой упирается в math.MaxInt64.
func GBToBytes(gb int64) int64 {
	switch {
	case gb <= 0:
		return 0
	case gb > math.MaxInt64/bytesInGB:
		return math.MaxInt64
	}
	return gb * bytesInGB
}

func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "protocol"
	}
}
