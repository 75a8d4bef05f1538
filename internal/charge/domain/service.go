package domain

import (
	"context"
	"time"

	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// StatusUpdate is a provider-sourced charge state change, arriving through
// either the webhook path or the polling path. Both apply the same
// transition rules.
type StatusUpdate struct {
	Status     gatewaydomain.ChargeStatus
	RawStatus  string
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
}

// Service orchestrates gateway charge lifecycle against local billings.
type Service interface {
	CreateExternalCharge(ctx context.Context, billingID snowflake.ID, providerCode string, forceRecreate bool) error
	SyncChargeStatuses(ctx context.Context, tenantID snowflake.ID, limit int) (int, error)
	RequestCancellation(ctx context.Context, billingID snowflake.ID, reason string) error
	ProcessPendingCancellations(ctx context.Context, tenantID snowflake.ID) (int, error)
	ApplyExternalStatus(ctx context.Context, provider, externalID string, update StatusUpdate) (*Charge, error)
	AdapterFor(ctx context.Context, tenantID snowflake.ID, provider string) (gatewaydomain.Adapter, error)
	FindByExternalID(ctx context.Context, provider, externalID string) (*Charge, error)
}
