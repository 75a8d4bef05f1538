// Package asaas implements the Asaas payment provider adapter. Charges map
// to Asaas payments; the payer must exist as an Asaas customer first, so
// charge creation runs a find-by-document-or-create step.
package asaas

import (
	"bytes"
	"context"
	"crypto/hmac"
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
	return "asaas"
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

type asaasCustomer struct {
	ID string `json:"id"`
}

type asaasCustomerList struct {
	Data []asaasCustomer `json:"data"`
}

type asaasPayment struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Value          float64 `json:"value"`
	InvoiceURL     string  `json:"invoiceUrl"`
	BankSlipURL    string  `json:"bankSlipUrl"`
	IdentificationField string `json:"identificationField"`
	PixQrCode      string  `json:"pixQrCode"`
	PaymentDate    string  `json:"paymentDate"`
	ExternalReference string `json:"externalReference"`
}

type asaasError struct {
	Errors []struct {
		Description string `json:"description"`
	} `json:"errors"`
}

type asaasEvent struct {
	ID      string       `json:"id"`
	Event   string       `json:"event"`
	Payment asaasPayment `json:"payment"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	customerID, err := a.findOrCreateCustomer(ctx, req.Customer)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"customer":          customerID,
		"billingType":       billingType(req.PaymentMethod),
		"value":             req.Amount.InexactFloat64(),
		"dueDate":           req.DueDate.Format("2006-01-02"),
		"description":       req.Description,
		"externalReference": req.Reference,
	}

	var payment asaasPayment
	if err := a.doRequest(ctx, http.MethodPost, "/v3/payments", body, &payment); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, domain.ErrChargeNotCreated
	}
	return chargeFromPayment(payment), nil
}

func (a *Adapter) GetChargeStatus(ctx context.Context, externalID string) (*domain.Charge, error) {
	var payment asaasPayment
	err := a.doRequest(ctx, http.MethodGet, "/v3/payments/"+url.PathEscape(externalID), nil, &payment)
	if err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, domain.ErrChargeNotFound
	}
	return chargeFromPayment(payment), nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	return a.doRequest(ctx, http.MethodDelete, "/v3/payments/"+url.PathEscape(externalID), nil, nil)
}

// Verify checks the asaas-access-token header against the configured
// webhook secret. Asaas sends a static token rather than a payload HMAC.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	token := strings.TrimSpace(headers.Get("Asaas-Access-Token"))
	if token == "" || !hmac.Equal([]byte(token), []byte(a.webhookSecret)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.WebhookData, error) {
	var event asaasEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Payment.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	status, ok := eventStatus(event.Event)
	if !ok {
		return nil, domain.ErrEventIgnored
	}

	data := &domain.WebhookData{
		Provider:   "asaas",
		EventID:    event.ID,
		Event:      event.Event,
		ExternalID: event.Payment.ID,
		Status:     status,
		PaidAmount: decimal.NewFromFloat(event.Payment.Value),
	}
	if event.Payment.PaymentDate != "" {
		if paidAt, err := time.Parse("2006-01-02", event.Payment.PaymentDate); err == nil {
			data.PaidAt = &paidAt
		}
	}
	return data, nil
}

func (a *Adapter) findOrCreateCustomer(ctx context.Context, customer domain.Customer) (string, error) {
	document := strings.TrimSpace(customer.Document)
	if document != "" {
		var list asaasCustomerList
		err := a.doRequest(ctx, http.MethodGet, "/v3/customers?cpfCnpj="+url.QueryEscape(document), nil, &list)
		if err != nil {
			return "", err
		}
		if len(list.Data) > 0 && list.Data[0].ID != "" {
			return list.Data[0].ID, nil
		}
	}

	body := map[string]any{
		"name":    customer.Name,
		"cpfCnpj": document,
		"email":   customer.Email,
	}
	var created asaasCustomer
	if err := a.doRequest(ctx, http.MethodPost, "/v3/customers", body, &created); err != nil {
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
	req.Header.Set("access_token", a.apiKey)
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
		var apiErr asaasError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && len(apiErr.Errors) > 0 {
			return fmt.Errorf("%w: %s", domain.ErrRequestFailed, apiErr.Errors[0].Description)
		}
		return domain.ErrRequestFailed
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func chargeFromPayment(payment asaasPayment) *domain.Charge {
	charge := &domain.Charge{
		ExternalID: payment.ID,
		Status:     mapStatus(payment.Status),
		RawStatus:  payment.Status,
		PaymentURL: payment.InvoiceURL,
		Barcode:    payment.IdentificationField,
		PixCode:    payment.PixQrCode,
	}
	if charge.PaymentURL == "" {
		charge.PaymentURL = payment.BankSlipURL
	}
	if charge.Status == domain.ChargeStatusPaid {
		charge.PaidAmount = decimal.NewFromFloat(payment.Value)
		if payment.PaymentDate != "" {
			if paidAt, err := time.Parse("2006-01-02", payment.PaymentDate); err == nil {
				charge.PaidAt = &paidAt
			}
		}
	}
	return charge
}

func mapStatus(status string) domain.ChargeStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PENDING", "AWAITING_RISK_ANALYSIS":
		return domain.ChargeStatusPending
	case "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return domain.ChargeStatusPaid
	case "OVERDUE":
		return domain.ChargeStatusOverdue
	case "REFUNDED", "REFUND_REQUESTED":
		return domain.ChargeStatusRefunded
	case "DELETED", "CHARGEBACK_REQUESTED":
		return domain.ChargeStatusCancelled
	default:
		return domain.ChargeStatusUnknown
	}
}

func eventStatus(event string) (domain.ChargeStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(event)) {
	case "PAYMENT_CREATED", "PAYMENT_UPDATED", "PAYMENT_AWAITING_RISK_ANALYSIS":
		return domain.ChargeStatusPending, true
	case "PAYMENT_RECEIVED", "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED_IN_CASH":
		return domain.ChargeStatusPaid, true
	case "PAYMENT_OVERDUE":
		return domain.ChargeStatusOverdue, true
	case "PAYMENT_REFUNDED":
		return domain.ChargeStatusRefunded, true
	case "PAYMENT_DELETED":
		return domain.ChargeStatusCancelled, true
	default:
		return domain.ChargeStatusUnknown, false
	}
}

func billingType(method contractdomain.PaymentMethod) string {
	switch method {
	case contractdomain.PaymentMethodPix:
		return "PIX"
	case contractdomain.PaymentMethodCard:
		return "CREDIT_CARD"
	default:
		return "BOLETO"
	}
}
