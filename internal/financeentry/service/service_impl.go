package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	financedomain "github.com/faturo/faturo/internal/financeentry/domain"
	"github.com/faturo/faturo/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("financeentry.service"),
		genID: p.GenID,
	}
}

// EnsureForBilling opens the receivable ledger row for a billing. Calling
// it again for the same billing is a no-op thanks to the unique billing_id
// index.
func (s *Service) EnsureForBilling(ctx context.Context, billing billingdomain.Billing) error {
	now := time.Now().UTC()
	entry := financedomain.FinanceEntry{
		ID:          s.genID.Generate(),
		TenantID:    billing.TenantID,
		BillingID:   billing.ID,
		ContractID:  billing.ContractID,
		Description: fmt.Sprintf("Billing %s (%s)", billing.BillingNumber, billing.ReferencePeriod),
		Amount:      billing.NetAmount,
		Status:      billingdomain.BillingStatusPending,
		DueDate:     billing.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

// UpdateFromWebhook traces a provider external id back to the finance
// entry and applies the reconciled state. Every link in the chain may be
// absent; the ledger tolerates that and reports nothing was updated.
func (s *Service) UpdateFromWebhook(ctx context.Context, provider, externalID string, update financedomain.Update) (*financedomain.FinanceEntry, error) {
	var charge chargedomain.Charge
	err := s.db.WithContext(ctx).First(&charge, "provider = ? AND external_id = ?", provider, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("no charge for external id, ledger untouched",
				zap.String("provider", provider),
				zap.String("external_id", externalID))
			return nil, nil
		}
		return nil, err
	}

	var billing billingdomain.Billing
	err = s.db.WithContext(ctx).First(&billing, "id = ?", charge.BillingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("charge without billing, ledger untouched",
				zap.String("charge_id", charge.ID.String()))
			return nil, nil
		}
		return nil, err
	}

	var entry financedomain.FinanceEntry
	err = s.db.WithContext(ctx).First(&entry, "billing_id = ?", billing.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Debug("no finance entry for billing, ledger untouched",
				zap.String("billing_id", billing.ID.String()))
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	values := map[string]any{
		"status":     update.Status,
		"updated_at": now,
	}
	if update.Status == billingdomain.BillingStatusPaid || update.Status == billingdomain.BillingStatusPartiallyPaid {
		paidAt := update.PaidAt
		if paidAt == nil {
			paidAt = &now
		}
		values["payment_date"] = paidAt
		if update.PaidAmount.IsPositive() {
			values["paid_amount"] = update.PaidAmount
		} else {
			values["paid_amount"] = entry.Amount
		}
	}

	if err := s.db.WithContext(ctx).Model(&financedomain.FinanceEntry{}).
		Where("id = ?", entry.ID).
		Updates(values).Error; err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&entry, "id = ?", entry.ID).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
