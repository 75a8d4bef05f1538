// Package iugu implements the Iugu payment provider adapter. Charges map to
// Iugu invoices with amounts in cents; the payer is created or found as an
// Iugu customer keyed by email.
package iugu

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
	return "iugu"
}

func (f *Factory) NewAdapter(cfg domain.GatewayConfig) (domain.Adapter, error) {
	return &Adapter{
		apiToken:      strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	apiToken      string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

type iuguCustomer struct {
	ID string `json:"id"`
}

type iuguCustomerList struct {
	Items []iuguCustomer `json:"items"`
}

type iuguInvoice struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	SecureURL      string `json:"secure_url"`
	DigitableLine  string `json:"digitable_line"`
	PixQRCodeText  string `json:"pix_qrcode_text"`
	TotalPaidCents int64  `json:"total_paid_cents"`
	PaidAt         string `json:"paid_at"`
}

type iuguError struct {
	Errors json.RawMessage `json:"errors"`
}

type iuguEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		TotalPaidCents int64  `json:"total_paid_cents"`
		PaidAt         string `json:"paid_at"`
	} `json:"data"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	customerID, err := a.findOrCreateCustomer(ctx, req.Customer)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"email":       req.Customer.Email,
		"customer_id": customerID,
		"due_date":    req.DueDate.Format("2006-01-02"),
		"items": []map[string]any{{
			"description": req.Description,
			"quantity":    1,
			"price_cents": toCents(req.Amount),
		}},
		"payable_with":    payableWith(req.PaymentMethod),
		"external_reference": req.Reference,
	}

	var invoice iuguInvoice
	if err := a.doRequest(ctx, http.MethodPost, "/v1/invoices", body, &invoice); err != nil {
		return nil, err
	}
	if invoice.ID == "" {
		return nil, domain.ErrChargeNotCreated
	}
	return chargeFromInvoice(invoice), nil
}

func (a *Adapter) GetChargeStatus(ctx context.Context, externalID string) (*domain.Charge, error) {
	var invoice iuguInvoice
	err := a.doRequest(ctx, http.MethodGet, "/v1/invoices/"+url.PathEscape(externalID), nil, &invoice)
	if err != nil {
		return nil, err
	}
	if invoice.ID == "" {
		return nil, domain.ErrChargeNotFound
	}
	return chargeFromInvoice(invoice), nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	return a.doRequest(ctx, http.MethodPut, "/v1/invoices/"+url.PathEscape(externalID)+"/cancel", nil, nil)
}

// Verify compares the Signature header against an HMAC-SHA256 of the raw
// payload under the configured secret.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get("Signature"))
	signature = strings.TrimPrefix(signature, "signature=")
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
	var event iuguEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Data.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Event) {
	case "invoice.status_changed", "invoice.payment_failed", "invoice.due":
	default:
		return nil, domain.ErrEventIgnored
	}

	data := &domain.WebhookData{
		Provider:   "iugu",
		Event:      event.Event,
		ExternalID: event.Data.ID,
		Status:     mapStatus(event.Data.Status),
		PaidAmount: fromCents(event.Data.TotalPaidCents),
	}
	if event.Data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, event.Data.PaidAt); err == nil {
			data.PaidAt = &paidAt
		}
	}
	if data.Status == domain.ChargeStatusUnknown {
		return nil, domain.ErrEventIgnored
	}
	return data, nil
}

func (a *Adapter) findOrCreateCustomer(ctx context.Context, customer domain.Customer) (string, error) {
	email := strings.TrimSpace(customer.Email)
	if email != "" {
		var list iuguCustomerList
		err := a.doRequest(ctx, http.MethodGet, "/v1/customers?query="+url.QueryEscape(email), nil, &list)
		if err != nil {
			return "", err
		}
		if len(list.Items) > 0 && list.Items[0].ID != "" {
			return list.Items[0].ID, nil
		}
	}

	body := map[string]any{
		"name":     customer.Name,
		"email":    email,
		"cpf_cnpj": customer.Document,
	}
	var created iuguCustomer
	if err := a.doRequest(ctx, http.MethodPost, "/v1/customers", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", domain.ErrRequestFailed
	}
	return created.ID, nil
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
	token := base64.StdEncoding.EncodeToString([]byte(a.apiToken + ":"))
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
		var apiErr iuguError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && len(apiErr.Errors) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrRequestFailed, string(apiErr.Errors))
		}
		return domain.ErrRequestFailed
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func chargeFromInvoice(invoice iuguInvoice) *domain.Charge {
	charge := &domain.Charge{
		ExternalID: invoice.ID,
		Status:     mapStatus(invoice.Status),
		RawStatus:  invoice.Status,
		PaymentURL: invoice.SecureURL,
		Barcode:    invoice.DigitableLine,
		PixCode:    invoice.PixQRCodeText,
	}
	if invoice.TotalPaidCents > 0 {
		charge.PaidAmount = fromCents(invoice.TotalPaidCents)
	}
	if invoice.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, invoice.PaidAt); err == nil {
			charge.PaidAt = &paidAt
		}
	}
	return charge
}

func mapStatus(status string) domain.ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "in_analysis", "draft":
		return domain.ChargeStatusPending
	case "paid", "externally_paid":
		return domain.ChargeStatusPaid
	case "partially_paid":
		return domain.ChargeStatusPartiallyPaid
	case "expired":
		return domain.ChargeStatusOverdue
	case "canceled":
		return domain.ChargeStatusCancelled
	case "refunded", "chargeback":
		return domain.ChargeStatusRefunded
	default:
		return domain.ChargeStatusUnknown
	}
}

func payableWith(method contractdomain.PaymentMethod) string {
	switch method {
	case contractdomain.PaymentMethodPix:
		return "pix"
	case contractdomain.PaymentMethodCard:
		return "credit_card"
	default:
		return "bank_slip"
	}
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
