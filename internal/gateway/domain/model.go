// Package domain defines the canonical gateway contract: one request and
// charge shape shared by every payment provider adapter.
package domain

import (
	"context"
	"net/http"
	"strings"
	"time"

	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ChargeStatus is the provider-independent charge state.
type ChargeStatus string

const (
	ChargeStatusPending       ChargeStatus = "PENDING"
	ChargeStatusPartiallyPaid ChargeStatus = "PARTIALLY_PAID"
	ChargeStatusOverdue       ChargeStatus = "OVERDUE"
	ChargeStatusPaid          ChargeStatus = "PAID"
	ChargeStatusCancelled     ChargeStatus = "CANCELLED"
	ChargeStatusRefunded      ChargeStatus = "REFUNDED"
	ChargeStatusUnknown       ChargeStatus = "UNKNOWN"
)

// Customer carries the fields providers need to create or find the remote
// payer record.
type Customer struct {
	Name     string
	Document string
	Email    string
}

// ChargeRequest is the canonical charge creation input. Reference carries
// the billing number and rides along as provider metadata so webhooks can
// be traced back.
type ChargeRequest struct {
	TenantID      snowflake.ID
	BillingID     snowflake.ID
	Customer      Customer
	Amount        decimal.Decimal
	DueDate       time.Time
	Description   string
	PaymentMethod contractdomain.PaymentMethod
	Reference     string
}

// Charge is the canonical result of a provider call. RawStatus keeps the
// provider's own status string for diagnostics.
type Charge struct {
	ExternalID string
	Status     ChargeStatus
	RawStatus  string
	PaymentURL string
	Barcode    string
	PixCode    string
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
}

// WebhookData is a parsed, provider-normalized webhook notification.
type WebhookData struct {
	Provider   string
	EventID    string
	Event      string
	ExternalID string
	Status     ChargeStatus
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
}

// Adapter is the per-provider implementation surface. CreateCharge includes
// the provider's create-or-find customer step.
type Adapter interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetChargeStatus(ctx context.Context, externalID string) (*Charge, error)
	CancelCharge(ctx context.Context, externalID string) error
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*WebhookData, error)
}

// AdapterFactory builds adapters from a tenant's gateway configuration.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg GatewayConfig) (Adapter, error)
}

// GatewayConfig is one tenant's credentials for one provider.
type GatewayConfig struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	TenantID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_gateway_configs_tenant_provider,priority:1"`
	Provider      string            `gorm:"type:text;not null;uniqueIndex:ux_gateway_configs_tenant_provider,priority:2"`
	Active        bool              `gorm:"not null;default:false"`
	APIKey        string            `gorm:"type:text"`
	WebhookSecret string            `gorm:"type:text"`
	BaseURL       string            `gorm:"type:text"`
	Sandbox       bool              `gorm:"not null;default:false"`
	Options       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GatewayConfig) TableName() string { return "payment_gateway_configs" }

// Validate rejects configs that must never reach the network: inactive
// rows, blank credentials, or a missing base URL.
func (c GatewayConfig) Validate() error {
	if !c.Active {
		return ErrInvalidConfig
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrInvalidConfig
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrInvalidConfig
	}
	return nil
}
