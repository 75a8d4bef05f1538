// Package pagarme implements the Pagar.me v5 payment provider adapter.
// Charges map to orders with a single payment; the customer rides embedded
// in the order payload so no separate create step is needed.
package pagarme

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/faturo/faturo/internal/gateway/domain"
	"github.com/shopspring/decimal"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "pagarme"
}

func (f *Factory) NewAdapter(cfg domain.GatewayConfig) (domain.Adapter, error) {
	return &Adapter{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

type pagarmeCharge struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	LastTransaction struct {
		URL          string `json:"url"`
		Line         string `json:"line"`
		QRCode       string `json:"qr_code"`
		PaidAmount   int64  `json:"paid_amount"`
		TransactedAt string `json:"transacted_at"`
	} `json:"last_transaction"`
}

type pagarmeOrder struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Charges []pagarmeCharge `json:"charges"`
}

type pagarmeError struct {
	Message string `json:"message"`
}

type pagarmeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		PaidAmount int64  `json:"paid_amount"`
		PaidAt     string `json:"paid_at"`
	} `json:"data"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	body := map[string]any{
		"code": req.Reference,
		"customer": map[string]any{
			"name":     req.Customer.Name,
			"email":    req.Customer.Email,
			"document": onlyDigits(req.Customer.Document),
			"type":     customerType(req.Customer.Document),
		},
		"items": []map[string]any{{
			"description": req.Description,
			"quantity":    1,
			"amount":      toCents(req.Amount),
		}},
		"payments": []map[string]any{paymentPayload(req)},
	}

	var order pagarmeOrder
	if err := a.doRequest(ctx, http.MethodPost, "/core/v5/orders", body, &order); err != nil {
		return nil, err
	}
	if len(order.Charges) == 0 || order.Charges[0].ID == "" {
		return nil, domain.ErrChargeNotCreated
	}
	return chargeFromPagarme(order.Charges[0]), nil
}

func (a *Adapter) GetChargeStatus(ctx context.Context, externalID string) (*domain.Charge, error) {
	var charge pagarmeCharge
	err := a.doRequest(ctx, http.MethodGet, "/core/v5/charges/"+url.PathEscape(externalID), nil, &charge)
	if err != nil {
		return nil, err
	}
	if charge.ID == "" {
		return nil, domain.ErrChargeNotFound
	}
	return chargeFromPagarme(charge), nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	return a.doRequest(ctx, http.MethodDelete, "/core/v5/charges/"+url.PathEscape(externalID), nil, nil)
}

// Verify checks the X-Hub-Signature header, an HMAC-SHA256 hex digest of
// the raw payload.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get("X-Hub-Signature"))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.WebhookData, error) {
	var event pagarmeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Data.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	if !strings.HasPrefix(strings.TrimSpace(event.Type), "charge.") {
		return nil, domain.ErrEventIgnored
	}

	status := mapStatus(event.Data.Status)
	if status == domain.ChargeStatusUnknown {
		return nil, domain.ErrEventIgnored
	}

	data := &domain.WebhookData{
		Provider:   "pagarme",
		EventID:    event.ID,
		Event:      event.Type,
		ExternalID: event.Data.ID,
		Status:     status,
		PaidAmount: fromCents(event.Data.PaidAmount),
	}
	if event.Data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, event.Data.PaidAt); err == nil {
			data.PaidAt = &paidAt
		}
	}
	return data, nil
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	token := base64.StdEncoding.EncodeToString([]byte(a.apiKey + ":"))
	req.Header.Set("Authorization", "Basic "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrChargeNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr pagarmeError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%w: %s", domain.ErrRequestFailed, apiErr.Message)
		}
		return domain.ErrRequestFailed
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func paymentPayload(req domain.ChargeRequest) map[string]any {
	switch req.PaymentMethod {
	case contractdomain.PaymentMethodPix:
		return map[string]any{
			"payment_method": "pix",
			"pix": map[string]any{
				"expires_at": req.DueDate.Format(time.RFC3339),
			},
		}
	case contractdomain.PaymentMethodCard:
		return map[string]any{
			"payment_method": "credit_card",
		}
	default:
		return map[string]any{
			"payment_method": "boleto",
			"boleto": map[string]any{
				"due_at": req.DueDate.Format(time.RFC3339),
			},
		}
	}
}

func chargeFromPagarme(charge pagarmeCharge) *domain.Charge {
	result := &domain.Charge{
		ExternalID: charge.ID,
		Status:     mapStatus(charge.Status),
		RawStatus:  charge.Status,
		PaymentURL: charge.LastTransaction.URL,
		Barcode:    charge.LastTransaction.Line,
		PixCode:    charge.LastTransaction.QRCode,
	}
	if charge.LastTransaction.PaidAmount > 0 {
		result.PaidAmount = fromCents(charge.LastTransaction.PaidAmount)
	}
	if charge.LastTransaction.TransactedAt != "" && result.Status == domain.ChargeStatusPaid {
		if paidAt, err := time.Parse(time.RFC3339, charge.LastTransaction.TransactedAt); err == nil {
			result.PaidAt = &paidAt
		}
	}
	return result
}

func mapStatus(status string) domain.ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "processing", "generated":
		return domain.ChargeStatusPending
	case "paid", "overpaid":
		return domain.ChargeStatusPaid
	case "underpaid":
		return domain.ChargeStatusPartiallyPaid
	case "canceled", "failed", "voided":
		return domain.ChargeStatusCancelled
	case "chargedback":
		return domain.ChargeStatusRefunded
	default:
		return domain.ChargeStatusUnknown
	}
}

func customerType(document string) string {
	if len(onlyDigits(document)) > 11 {
		return "company"
	}
	return "individual"
}

func onlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
