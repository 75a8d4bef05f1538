// Package domain contains the finance entry model, the receivable ledger
// row that mirrors one billing.
package domain

import (
	"context"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// FinanceEntry is the receivable ledger row for one billing. The unique
// billing_id index makes ledger updates idempotent per billing.
type FinanceEntry struct {
	ID          snowflake.ID                `gorm:"primaryKey"`
	TenantID    snowflake.ID                `gorm:"not null;index"`
	BillingID   snowflake.ID                `gorm:"not null;uniqueIndex:ux_finance_entries_billing"`
	ContractID  snowflake.ID                `gorm:"not null;index"`
	Description string                      `gorm:"type:text"`
	Amount      decimal.Decimal             `gorm:"type:numeric(14,2);not null"`
	Status      billingdomain.BillingStatus `gorm:"type:text;not null;default:'PENDING'"`
	PaymentDate *time.Time                  `gorm:""`
	PaidAmount  decimal.Decimal             `gorm:"type:numeric(14,2);not null;default:0"`
	DueDate     time.Time                   `gorm:"not null"`
	CreatedAt   time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FinanceEntry) TableName() string { return "finance_entries" }

// Update is a reconciliation-sourced change to a finance entry.
type Update struct {
	Status     billingdomain.BillingStatus
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
}

// Service keeps the receivable ledger in step with billing reconciliation.
// UpdateFromWebhook walks Charge -> Billing -> FinanceEntry from a
// (provider, external id) pair; a missing link anywhere returns (nil, nil)
// rather than an error, since the ledger may lag behind billing
// materialization.
type Service interface {
	UpdateFromWebhook(ctx context.Context, provider, externalID string, update Update) (*FinanceEntry, error)
	EnsureForBilling(ctx context.Context, billing billingdomain.Billing) error
}
