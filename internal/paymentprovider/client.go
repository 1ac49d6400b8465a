// Package paymentprovider клиент REST API ЮKassa для создания платежей.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
)

// Client клиент ЮKassa.
type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	returnURL  string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient создаёт новый клиент ЮKassa
func NewClient(cfg config.YooKassa, log *slog.Logger) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.yookassa.ru/v3"
	}
	return &Client{
		shopID:     cfg.ShopID,
		secretKey:  cfg.SecretKey,
		apiURL:     apiURL,
		returnURL:  cfg.ReturnURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Configured сообщает, заданы ли учётные данные магазина.
func (c *Client) Configured() bool {
	return c.shopID != "" && c.secretKey != ""
}

// ReturnURL адрес возврата после оплаты.
func (c *Client) ReturnURL() string {
	return c.returnURL
}

func (c *Client) newRequest(ctx context.Context, method, path, idempotenceKey string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
	return req, nil
}

// CreatePayment создаёт платёж. Повтор с тем же idempotenceKey вернёт тот же платёж.
func (c *Client) CreatePayment(ctx context.Context, reqParams CreatePaymentRequest, idempotenceKey string) (*CreatePaymentResponse, error) {
	const op = "paymentprovider.CreatePayment"

	req, err := c.newRequest(ctx, http.MethodPost, "/payments", idempotenceKey, reqParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			apiErr.Description = string(body)
		}
		return nil, fmt.Errorf("%s: %w", op, apiErr)
	}

	var paymentResp CreatePaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&paymentResp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.log.Debug("payment created", slog.String("payment_id", paymentResp.ID), slog.String("status", paymentResp.Status))
	return &paymentResp, nil
}
