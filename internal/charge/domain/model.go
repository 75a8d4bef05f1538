// Package domain contains persistence models for external gateway charges
// and the cancellation queue.
package domain

import (
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Charge is the local mirror of one provider charge. A billing has at most
// one charge row; recreation under forceRecreate reuses the row.
type Charge struct {
	ID         snowflake.ID               `gorm:"primaryKey"`
	TenantID   snowflake.ID               `gorm:"not null;index"`
	BillingID  snowflake.ID               `gorm:"not null;uniqueIndex:ux_charges_billing"`
	Provider   string                     `gorm:"type:text;not null;index:ix_charges_provider_external,priority:1"`
	ExternalID string                     `gorm:"type:text;index:ix_charges_provider_external,priority:2"`
	Status     gatewaydomain.ChargeStatus `gorm:"type:text;not null;default:'PENDING'"`
	RawStatus  string                     `gorm:"type:text"`
	PaymentURL string                     `gorm:"type:text"`
	Barcode    string                     `gorm:"type:text"`
	PixCode    string                     `gorm:"type:text"`
	PaidAmount decimal.Decimal            `gorm:"type:numeric(14,2);not null;default:0"`
	PaidAt     *time.Time                 `gorm:""`
	LastSyncAt *time.Time                 `gorm:"index"`
	CreatedAt  time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time                  `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// CancellationStatus is the cancellation queue state. FAILED rows stay
// retryable until the attempt budget runs out.
type CancellationStatus string

const (
	CancellationPending    CancellationStatus = "PENDING"
	CancellationProcessing CancellationStatus = "PROCESSING"
	CancellationCompleted  CancellationStatus = "COMPLETED"
	CancellationFailed     CancellationStatus = "FAILED"
)

// ChargeCancellation queues an asynchronous remote cancellation request.
type ChargeCancellation struct {
	ID           snowflake.ID       `gorm:"primaryKey"`
	TenantID     snowflake.ID       `gorm:"not null;index"`
	ChargeID     snowflake.ID       `gorm:"not null;index"`
	Status       CancellationStatus `gorm:"type:text;not null;default:'PENDING';index"`
	Reason       string             `gorm:"type:text"`
	AttemptCount int                `gorm:"not null;default:0"`
	LastError    string             `gorm:"type:text"`
	CreatedAt    time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ChargeCancellation) TableName() string { return "charge_cancellations" }

// BillingStatusFor maps a canonical charge status to the billing status it
// implies. PENDING and UNKNOWN imply nothing; both reconciliation paths
// (webhook and poller) go through this one mapping.
func BillingStatusFor(status gatewaydomain.ChargeStatus) (billingdomain.BillingStatus, bool) {
	switch status {
	case gatewaydomain.ChargeStatusPaid:
		return billingdomain.BillingStatusPaid, true
	case gatewaydomain.ChargeStatusPartiallyPaid:
		return billingdomain.BillingStatusPartiallyPaid, true
	case gatewaydomain.ChargeStatusOverdue:
		return billingdomain.BillingStatusOverdue, true
	case gatewaydomain.ChargeStatusCancelled:
		return billingdomain.BillingStatusCancelled, true
	case gatewaydomain.ChargeStatusRefunded:
		return billingdomain.BillingStatusRefunded, true
	default:
		return "", false
	}
}
