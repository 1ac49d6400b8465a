package paymentprovider

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Amount денежная сумма в формате ЮKassa: строка с двумя знаками после точки.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// AmountFromKopecks переводит сумму в копейках в формат ЮKassa.
func AmountFromKopecks(kopecks int64, currency string) Amount {
	return Amount{
		Value:    decimal.New(kopecks, -2).StringFixed(2),
		Currency: currency,
	}
}

// Kopecks возвращает сумму в минимальных единицах валюты.
func (a Amount) Kopecks() (int64, error) {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return 0, fmt.Errorf("paymentprovider.Amount: %w", err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

// Confirmation способ подтверждения платежа.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// CreatePaymentRequest запрос на создание платежа.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreatePaymentResponse ответ на создание платежа.
type CreatePaymentResponse struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

// APIError ошибка, которую вернул API ЮKassa.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yookassa: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
}
