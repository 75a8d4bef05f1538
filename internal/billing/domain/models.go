// Package domain contains persistence models for contract billings.
package domain

import (
	"time"

	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BillingStatus represents billing lifecycle states. Transitions happen
// only through the reconciliation paths (poller or webhook), never through
// the presentation layer.
type BillingStatus string

const (
	BillingStatusScheduled     BillingStatus = "SCHEDULED"
	BillingStatusPending       BillingStatus = "PENDING"
	BillingStatusPartiallyPaid BillingStatus = "PARTIALLY_PAID"
	BillingStatusOverdue       BillingStatus = "OVERDUE"
	BillingStatusPaid          BillingStatus = "PAID"
	BillingStatusCancelled     BillingStatus = "CANCELLED"
	BillingStatusRefunded      BillingStatus = "REFUNDED"
)

// SyncStatus tracks gateway integration state for a billing.
type SyncStatus string

const (
	SyncStatusNotSynced  SyncStatus = "NOT_SYNCED"
	SyncStatusSynced     SyncStatus = "SYNCED"
	SyncStatusSyncFailed SyncStatus = "SYNC_FAILED"
)

// rank orders the non-terminal statuses so that out-of-order webhook
// deliveries can never regress a billing. PENDING < OVERDUE < PAID.
func rank(status BillingStatus) int {
	switch status {
	case BillingStatusScheduled, BillingStatusPending:
		return 0
	case BillingStatusPartiallyPaid:
		return 1
	case BillingStatusOverdue:
		return 2
	case BillingStatusPaid:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from one status to another is
// allowed. Terminal states never move except PAID -> REFUNDED; stale
// events that would lower the rank are rejected.
func CanTransition(from, to BillingStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case BillingStatusCancelled, BillingStatusRefunded:
		return false
	case BillingStatusPaid:
		return to == BillingStatusRefunded
	}
	switch to {
	case BillingStatusCancelled, BillingStatusRefunded:
		return true
	case BillingStatusPaid, BillingStatusOverdue, BillingStatusPartiallyPaid:
		return rank(to) > rank(from)
	default:
		return false
	}
}

// Billing is one materialized, due-for-payment snapshot of a contract for
// one reference period. At most one row exists per (contract_id,
// reference_period); the unique index is the idempotency source of truth.
type Billing struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	TenantID        snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_billings_tenant_number,priority:1"`
	ContractID      snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_billings_contract_period,priority:1"`
	BillingNumber   string          `gorm:"type:text;not null;uniqueIndex:ux_billings_tenant_number,priority:2"`
	ReferencePeriod string          `gorm:"type:text;not null;uniqueIndex:ux_billings_contract_period,priority:2"`
	PeriodStart     time.Time       `gorm:"not null"`
	PeriodEnd       time.Time       `gorm:"not null"`
	IssueDate       time.Time       `gorm:"not null"`
	DueDate         time.Time       `gorm:"not null"`
	GrossAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DiscountAmount  decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TaxAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	NetAmount       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	InterestAmount  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	FineAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	FineAppliedAt   *time.Time      `gorm:""`
	Status          BillingStatus   `gorm:"type:text;not null;default:'SCHEDULED'"`
	SyncStatus      SyncStatus      `gorm:"type:text;not null;default:'NOT_SYNCED'"`
	ExternalID      *string         `gorm:"type:text;index"`
	GatewayProvider string          `gorm:"type:text"`
	PaymentMethod   contractdomain.PaymentMethod `gorm:"type:text;not null;default:'BOLETO'"`
	Retroactive     bool            `gorm:"not null;default:false"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Billing) TableName() string { return "contract_billings" }

// BillingItem is a line on a billing, created together with its parent.
// If item insertion fails the parent billing is deleted again so no empty
// billings survive.
type BillingItem struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	TenantID       snowflake.ID    `gorm:"not null;index"`
	BillingID      snowflake.ID    `gorm:"not null;index"`
	ServiceName    string          `gorm:"type:text;not null"`
	Quantity       decimal.Decimal `gorm:"type:numeric(14,4);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DiscountPct    decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	TaxPct         decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	GrossAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	NetAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingItem) TableName() string { return "contract_billing_items" }
