// Package mercadopago implements the Mercado Pago payment provider
// adapter. Charges map to payments; webhook notifications carry only the
// payment id, so parsed events surface an UNKNOWN status and the caller
// resolves it with GetChargeStatus.
package mercadopago

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/faturo/faturo/internal/gateway/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "mercadopago"
}

func (f *Factory) NewAdapter(cfg domain.GatewayConfig) (domain.Adapter, error) {
	return &Adapter{
		accessToken:   strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:        &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type Adapter struct {
	accessToken   string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

type mpPayment struct {
	ID                 int64   `json:"id"`
	Status             string  `json:"status"`
	TransactionAmount  float64 `json:"transaction_amount"`
	DateApproved       string  `json:"date_approved"`
	TransactionDetails struct {
		ExternalResourceURL string  `json:"external_resource_url"`
		TotalPaidAmount     float64 `json:"total_paid_amount"`
	} `json:"transaction_details"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode     string `json:"qr_code"`
			TicketURL  string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	Barcode struct {
		Content string `json:"content"`
	} `json:"barcode"`
}

type mpError struct {
	Message string `json:"message"`
}

type mpEvent struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	firstName, lastName := splitName(req.Customer.Name)
	body := map[string]any{
		"transaction_amount": req.Amount.InexactFloat64(),
		"description":        req.Description,
		"payment_method_id":  paymentMethodID(req.PaymentMethod),
		"external_reference": req.Reference,
		"date_of_expiration": req.DueDate.Format("2006-01-02T15:04:05.000-07:00"),
		"payer": map[string]any{
			"email":      req.Customer.Email,
			"first_name": firstName,
			"last_name":  lastName,
			"identification": map[string]any{
				"type":   identificationType(req.Customer.Document),
				"number": onlyDigits(req.Customer.Document),
			},
		},
	}

	var payment mpPayment
	if err := a.doRequest(ctx, http.MethodPost, "/v1/payments", body, &payment); err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, domain.ErrChargeNotCreated
	}
	return chargeFromPayment(payment), nil
}

func (a *Adapter) GetChargeStatus(ctx context.Context, externalID string) (*domain.Charge, error) {
	var payment mpPayment
	err := a.doRequest(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(externalID), nil, &payment)
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, domain.ErrChargeNotFound
	}
	return chargeFromPayment(payment), nil
}

func (a *Adapter) CancelCharge(ctx context.Context, externalID string) error {
	body := map[string]any{"status": "cancelled"}
	return a.doRequest(ctx, http.MethodPut, "/v1/payments/"+url.PathEscape(externalID), body, nil)
}

// Verify validates the x-signature header: "ts=...,v1=..." where v1 is an
// HMAC-SHA256 of the manifest "id:{data.id};request-id:{rid};ts:{ts};".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return nil
	}
	signature := strings.TrimSpace(headers.Get("X-Signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	var ts, v1 string
	for _, part := range strings.Split(signature, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "ts":
			ts = strings.TrimSpace(keyValue[1])
		case "v1":
			v1 = strings.TrimSpace(keyValue[1])
		}
	}
	if ts == "" || v1 == "" {
		return domain.ErrInvalidSignature
	}

	var event mpEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.ErrInvalidPayload
	}

	manifest := "id:" + event.Data.ID.String() + ";"
	if requestID := strings.TrimSpace(headers.Get("X-Request-Id")); requestID != "" {
		manifest += "request-id:" + requestID + ";"
	}
	manifest += "ts:" + ts + ";"

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(v1), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.WebhookData, error) {
	var event mpEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Type) != "payment" {
		return nil, domain.ErrEventIgnored
	}
	externalID := event.Data.ID.String()
	if externalID == "" || externalID == "0" {
		return nil, domain.ErrInvalidEvent
	}

	return &domain.WebhookData{
		Provider:   "mercadopago",
		EventID:    event.ID.String(),
		Event:      event.Action,
		ExternalID: externalID,
		Status:     domain.ChargeStatusUnknown,
	}, nil
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
	req.Header.Set("Authorization", "Bearer "+a.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("X-Idempotency-Key", uuid.NewString())
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
		var apiErr mpError
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

func chargeFromPayment(payment mpPayment) *domain.Charge {
	charge := &domain.Charge{
		ExternalID: strconv.FormatInt(payment.ID, 10),
		Status:     mapStatus(payment.Status),
		RawStatus:  payment.Status,
		PaymentURL: payment.TransactionDetails.ExternalResourceURL,
		Barcode:    payment.Barcode.Content,
		PixCode:    payment.PointOfInteraction.TransactionData.QRCode,
	}
	if charge.PaymentURL == "" {
		charge.PaymentURL = payment.PointOfInteraction.TransactionData.TicketURL
	}
	if payment.TransactionDetails.TotalPaidAmount > 0 {
		charge.PaidAmount = decimal.NewFromFloat(payment.TransactionDetails.TotalPaidAmount)
	}
	if payment.DateApproved != "" && charge.Status == domain.ChargeStatusPaid {
		if paidAt, err := time.Parse(time.RFC3339, payment.DateApproved); err == nil {
			charge.PaidAt = &paidAt
		}
	}
	return charge
}

func mapStatus(status string) domain.ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "authorized", "in_process", "in_mediation":
		return domain.ChargeStatusPending
	case "approved":
		return domain.ChargeStatusPaid
	case "cancelled", "rejected", "expired":
		return domain.ChargeStatusCancelled
	case "refunded", "charged_back":
		return domain.ChargeStatusRefunded
	default:
		return domain.ChargeStatusUnknown
	}
}

func paymentMethodID(method contractdomain.PaymentMethod) string {
	switch method {
	case contractdomain.PaymentMethodPix:
		return "pix"
	case contractdomain.PaymentMethodCard:
		return "master"
	default:
		return "bolbradesco"
	}
}

func identificationType(document string) string {
	if len(onlyDigits(document)) > 11 {
		return "CNPJ"
	}
	return "CPF"
}

func splitName(name string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(name))
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
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
