// Package domain contains persistence models for customer contracts.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ContractStatus represents contract lifecycle states.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusInactive  ContractStatus = "INACTIVE"
	ContractStatusSuspended ContractStatus = "SUSPENDED"
	ContractStatusClosed    ContractStatus = "CLOSED"
)

// BillingIntervalType is the canonical billing cadence.
type BillingIntervalType string

const (
	IntervalMonthly    BillingIntervalType = "MONTHLY"
	IntervalQuarterly  BillingIntervalType = "QUARTERLY"
	IntervalSemiannual BillingIntervalType = "SEMIANNUAL"
	IntervalAnnual     BillingIntervalType = "ANNUAL"
)

// Months returns the cadence length in months, or 0 for an unknown type.
func (t BillingIntervalType) Months() int {
	switch t {
	case IntervalMonthly:
		return 1
	case IntervalQuarterly:
		return 3
	case IntervalSemiannual:
		return 6
	case IntervalAnnual:
		return 12
	default:
		return 0
	}
}

// ParseIntervalLabel maps localized billing-type labels stored on contract
// services (e.g. "Mensal") to the canonical cadence enum.
func ParseIntervalLabel(label string) (BillingIntervalType, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "mensal", "monthly":
		return IntervalMonthly, true
	case "trimestral", "quarterly":
		return IntervalQuarterly, true
	case "semestral", "semiannual":
		return IntervalSemiannual, true
	case "anual", "annual", "yearly":
		return IntervalAnnual, true
	default:
		return "", false
	}
}

// PaymentMethod is the instrument used to collect a billing.
type PaymentMethod string

const (
	PaymentMethodBoleto PaymentMethod = "BOLETO"
	PaymentMethodPix    PaymentMethod = "PIX"
	PaymentMethodCard   PaymentMethod = "CARD"
)

// Contract identifies a customer and its billing cadence.
type Contract struct {
	ID                   snowflake.ID        `gorm:"primaryKey"`
	TenantID             snowflake.ID        `gorm:"not null;index"`
	CustomerID           snowflake.ID        `gorm:"not null;index"`
	CustomerName         string              `gorm:"type:text;not null"`
	CustomerDocument     string              `gorm:"type:text"`
	CustomerEmail        string              `gorm:"type:text"`
	Status               ContractStatus      `gorm:"type:text;not null;default:'ACTIVE'"`
	BillingDay           int                 `gorm:"not null"`
	DueDay               int                 `gorm:"not null"`
	BillingInterval      int                 `gorm:"not null;default:1"`
	BillingIntervalType  BillingIntervalType `gorm:"type:text;not null;default:'MONTHLY'"`
	DiscountPct          decimal.Decimal     `gorm:"type:numeric(7,4);not null;default:0"`
	StartDate            time.Time           `gorm:"not null"`
	EndDate              *time.Time          `gorm:""`
	AutoBilling          bool                `gorm:"not null;default:false"`
	GenerateBilling      bool                `gorm:"not null;default:false"`
	AutoIntegrateGateway bool                `gorm:"not null;default:false"`
	GatewayProvider      string              `gorm:"type:text"`
	CreatedAt            time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Services []ContractService `gorm:"foreignKey:ContractID"`
}

// TableName sets the database table name.
func (Contract) TableName() string { return "contracts" }

// Billable reports whether the contract is eligible for automated generation.
func (c Contract) Billable() bool {
	return c.Status == ContractStatusActive && c.AutoBilling && c.GenerateBilling
}

// ContractService is a line item template owned by exactly one contract.
type ContractService struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	TenantID      snowflake.ID    `gorm:"not null;index"`
	ContractID    snowflake.ID    `gorm:"not null;index"`
	ServiceName   string          `gorm:"type:text;not null"`
	Quantity      decimal.Decimal `gorm:"type:numeric(14,4);not null;default:1"`
	UnitPrice     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	DiscountPct   decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	TaxPct        decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0"`
	PaymentMethod PaymentMethod   `gorm:"type:text;not null;default:'BOLETO'"`
	CardBrand     string          `gorm:"type:text"`
	BillingType   string          `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ContractService) TableName() string { return "contract_services" }
