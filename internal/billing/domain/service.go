package domain

import (
	"context"
	"time"

	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/bwmarrin/snowflake"
)

// GenerateOptions tunes one generation run.
type GenerateOptions struct {
	ForceRegenerate bool
	DryRun          bool
	AutoIntegrate   bool
}

// Generated is one materialized billing with its lines.
type Generated struct {
	Billing Billing
	Items   []BillingItem
	DryRun  bool
}

// ContractError records a single contract's failure without aborting the run.
type ContractError struct {
	ContractID snowflake.ID
	Err        error
}

// Result is the outcome of a generation batch.
type Result struct {
	Generated []Generated
	Skipped   int
	Errors    []ContractError
}

// Service materializes billing periods for contracts.
type Service interface {
	GenerateBillings(ctx context.Context, tenantID snowflake.ID, contracts []contractdomain.Contract, referenceDate time.Time, opts GenerateOptions) (Result, error)
	FetchBillableContracts(ctx context.Context, tenantID snowflake.ID) ([]contractdomain.Contract, error)
	ApplyOverdueCharges(ctx context.Context, tenantID snowflake.ID, today time.Time) (int, error)
}

// ChargeCreator triggers gateway integration for a freshly materialized
// billing. Implemented by the charge orchestrator; injected here to keep
// the dependency direction one-way.
type ChargeCreator interface {
	CreateExternalCharge(ctx context.Context, billingID snowflake.ID, providerCode string, forceRecreate bool) error
}

// LedgerWriter opens a finance entry for a freshly materialized billing.
// Implemented by the finance entry service; injected the same way as
// ChargeCreator.
type LedgerWriter interface {
	EnsureForBilling(ctx context.Context, billing Billing) error
}
