package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	"github.com/faturo/faturo/internal/billing/planner"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/faturo/faturo/internal/finance"
	"github.com/faturo/faturo/internal/metrics"
	"github.com/faturo/faturo/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Metrics       *metrics.Metrics            `optional:"true"`
	ChargeCreator billingdomain.ChargeCreator `optional:"true"`
	LedgerWriter  billingdomain.LedgerWriter  `optional:"true"`
	Billing       BillingConfig               `optional:"true"`
}

// BillingConfig carries generation tunables resolved from app config.
type BillingConfig struct {
	HorizonMonths      int
	GraceDays          int
	MonthlyInterestPct decimal.Decimal
	FinePct            decimal.Decimal
}

func (c BillingConfig) withDefaults() BillingConfig {
	if c.HorizonMonths <= 0 {
		c.HorizonMonths = 1
	}
	if c.MonthlyInterestPct.IsZero() {
		c.MonthlyInterestPct = decimal.NewFromInt(1)
	}
	if c.FinePct.IsZero() {
		c.FinePct = decimal.NewFromInt(2)
	}
	return c
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	metrics       *metrics.Metrics
	chargeCreator billingdomain.ChargeCreator
	ledgerWriter  billingdomain.LedgerWriter
	cfg           BillingConfig
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("billing.service"),
		genID:         p.GenID,
		metrics:       p.Metrics,
		chargeCreator: p.ChargeCreator,
		ledgerWriter:  p.LedgerWriter,
		cfg:           p.Billing.withDefaults(),
	}
}

// FetchBillableContracts loads active auto-billing contracts with their
// service templates for one tenant.
func (s *Service) FetchBillableContracts(ctx context.Context, tenantID snowflake.ID) ([]contractdomain.Contract, error) {
	var contracts []contractdomain.Contract
	err := s.db.WithContext(ctx).
		Preload("Services").
		Where("tenant_id = ? AND status = ? AND auto_billing = ? AND generate_billing = ?",
			tenantID, contractdomain.ContractStatusActive, true, true).
		Order("id").
		Find(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

// GenerateBillings materializes every period owed by the given contracts up
// to the reference date. One contract's failure never aborts the batch.
func (s *Service) GenerateBillings(
	ctx context.Context,
	tenantID snowflake.ID,
	contracts []contractdomain.Contract,
	referenceDate time.Time,
	opts billingdomain.GenerateOptions,
) (billingdomain.Result, error) {

	result := billingdomain.Result{}
	tenant := tenantID.String()

	for _, contract := range contracts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !contract.Billable() {
			s.log.Debug("contract skipped: not billable",
				zap.String("contract_id", contract.ID.String()))
			continue
		}

		generated, skipped, err := s.generateForContract(ctx, tenantID, contract, referenceDate, opts)
		result.Skipped += skipped
		if err != nil {
			result.Errors = append(result.Errors, billingdomain.ContractError{ContractID: contract.ID, Err: err})
			s.log.Warn("billing generation failed for contract",
				zap.String("contract_id", contract.ID.String()),
				zap.Error(err))
			continue
		}
		for range generated {
			s.metrics.IncBillingGenerated(tenant)
		}
		for i := 0; i < skipped; i++ {
			s.metrics.IncBillingSkipped(tenant)
		}
		result.Generated = append(result.Generated, generated...)
	}

	return result, nil
}

func (s *Service) generateForContract(
	ctx context.Context,
	tenantID snowflake.ID,
	contract contractdomain.Contract,
	referenceDate time.Time,
	opts billingdomain.GenerateOptions,
) ([]billingdomain.Generated, int, error) {

	if len(contract.Services) == 0 {
		return nil, 0, billingdomain.ErrNoServices
	}
	if err := validateServices(contract.Services); err != nil {
		return nil, 0, err
	}

	// Payment terms come from the services' billing_type labels, not from a
	// contract-level field.
	resolvePaymentTerms(&contract)

	hasPrior, err := s.hasBillings(ctx, tenantID, contract.ID)
	if err != nil {
		return nil, 0, err
	}

	periods, err := planner.Plan(contract, s.cfg.HorizonMonths, referenceDate, hasPrior)
	if err != nil {
		return nil, 0, err
	}

	generated := make([]billingdomain.Generated, 0, len(periods))
	skipped := 0
	for _, period := range periods {
		if period.BillDate.After(referenceDate) {
			continue
		}

		item, created, err := s.materializePeriod(ctx, tenantID, contract, period, referenceDate, opts)
		if err != nil {
			return generated, skipped, err
		}
		if !created {
			skipped++
			continue
		}
		generated = append(generated, *item)

		if s.ledgerWriter != nil && !opts.DryRun {
			if err := s.ledgerWriter.EnsureForBilling(ctx, item.Billing); err != nil {
				s.log.Warn("finance entry creation failed for new billing",
					zap.String("billing_id", item.Billing.ID.String()),
					zap.Error(err))
			}
		}

		if opts.AutoIntegrate && contract.AutoIntegrateGateway && !opts.DryRun && s.chargeCreator != nil {
			// Integration failure leaves the billing unsynced for a later
			// retry; it never undoes the billing itself.
			if err := s.chargeCreator.CreateExternalCharge(ctx, item.Billing.ID, contract.GatewayProvider, false); err != nil {
				s.log.Warn("gateway integration failed for new billing",
					zap.String("billing_id", item.Billing.ID.String()),
					zap.String("provider", contract.GatewayProvider),
					zap.Error(err))
			}
		}
	}

	return generated, skipped, nil
}

func (s *Service) materializePeriod(
	ctx context.Context,
	tenantID snowflake.ID,
	contract contractdomain.Contract,
	period planner.Period,
	referenceDate time.Time,
	opts billingdomain.GenerateOptions,
) (*billingdomain.Generated, bool, error) {

	refPeriod := period.ReferencePeriod()

	existing, err := s.findBilling(ctx, tenantID, contract.ID, refPeriod)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !opts.ForceRegenerate {
			return nil, false, nil
		}
		if existing.Status != billingdomain.BillingStatusScheduled && existing.Status != billingdomain.BillingStatusPending {
			return nil, false, billingdomain.ErrBillingExists
		}
		if !opts.DryRun {
			if err := s.deleteBilling(ctx, existing.ID); err != nil {
				return nil, false, err
			}
		}
	}

	lines := make([]finance.Line, 0, len(contract.Services))
	for _, svc := range contract.Services {
		lines = append(lines, finance.Line{
			Quantity:    svc.Quantity,
			UnitPrice:   svc.UnitPrice,
			DiscountPct: svc.DiscountPct,
			TaxPct:      svc.TaxPct,
		})
	}
	totals := finance.CalculateBilling(lines, contract.DiscountPct)

	now := time.Now().UTC()
	billing := billingdomain.Billing{
		ID:              s.genID.Generate(),
		TenantID:        tenantID,
		ContractID:      contract.ID,
		ReferencePeriod: refPeriod,
		PeriodStart:     period.Start,
		PeriodEnd:       period.End,
		IssueDate:       truncateDay(referenceDate),
		DueDate:         period.DueDate,
		GrossAmount:     finance.Round2(totals.Gross),
		DiscountAmount:  finance.Round2(totals.Discount),
		TaxAmount:       finance.Round2(totals.Tax),
		NetAmount:       finance.Round2(totals.Net),
		InterestAmount:  decimal.Zero,
		FineAmount:      decimal.Zero,
		Status:          billingdomain.BillingStatusScheduled,
		SyncStatus:      billingdomain.SyncStatusNotSynced,
		GatewayProvider: contract.GatewayProvider,
		PaymentMethod:   primaryPaymentMethod(contract.Services),
		Retroactive:     period.Retroactive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]billingdomain.BillingItem, 0, len(contract.Services))
	for _, svc := range contract.Services {
		amounts := finance.CalculateLine(finance.Line{
			Quantity:    svc.Quantity,
			UnitPrice:   svc.UnitPrice,
			DiscountPct: svc.DiscountPct,
			TaxPct:      svc.TaxPct,
		})
		items = append(items, billingdomain.BillingItem{
			ID:             s.genID.Generate(),
			TenantID:       tenantID,
			BillingID:      billing.ID,
			ServiceName:    svc.ServiceName,
			Quantity:       svc.Quantity,
			UnitPrice:      svc.UnitPrice,
			DiscountPct:    svc.DiscountPct,
			TaxPct:         svc.TaxPct,
			GrossAmount:    finance.Round2(amounts.Gross),
			DiscountAmount: finance.Round2(amounts.Discount),
			TaxAmount:      finance.Round2(amounts.Tax),
			NetAmount:      finance.Round2(amounts.Net),
			CreatedAt:      now,
		})
	}

	if opts.DryRun {
		billing.BillingNumber = "PREVIEW"
		return &billingdomain.Generated{Billing: billing, Items: items, DryRun: true}, true, nil
	}

	number, err := s.nextBillingNumber(ctx, tenantID, period.Start)
	if err != nil {
		return nil, false, err
	}
	billing.BillingNumber = number

	if err := s.db.WithContext(ctx).Create(&billing).Error; err != nil {
		// The unique indexes are the real idempotency guard; a concurrent
		// run that won the race makes this a skip, not a failure.
		if db.IsDuplicateKeyErr(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if err := s.db.WithContext(ctx).Create(&items).Error; err != nil {
		// Compensating delete: an empty billing must not survive.
		if delErr := s.deleteBilling(ctx, billing.ID); delErr != nil {
			s.log.Error("compensating delete failed, orphaned billing",
				zap.String("billing_id", billing.ID.String()),
				zap.Error(delErr))
		}
		return nil, false, err
	}

	return &billingdomain.Generated{Billing: billing, Items: items}, true, nil
}

// ApplyOverdueCharges accrues interest and applies the one-time fine for
// every billing past its due date. The fine is guarded by fine_applied_at
// so repeated runs on the same day never double-apply it.
func (s *Service) ApplyOverdueCharges(ctx context.Context, tenantID snowflake.ID, today time.Time) (int, error) {
	var billings []billingdomain.Billing
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND due_date < ?",
			tenantID,
			[]billingdomain.BillingStatus{
				billingdomain.BillingStatusScheduled,
				billingdomain.BillingStatusPending,
				billingdomain.BillingStatusOverdue,
			},
			truncateDay(today)).
		Find(&billings).Error
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, billing := range billings {
		days := finance.DaysOverdue(billing.DueDate, today)
		if days <= s.cfg.GraceDays {
			continue
		}

		accrual := finance.ApplyInterestAndFine(
			billing.NetAmount, billing.DueDate, today,
			s.cfg.MonthlyInterestPct, s.cfg.FinePct, s.cfg.GraceDays,
		)

		now := time.Now().UTC()
		values := map[string]any{
			"interest_amount": finance.Round2(accrual.Interest),
			"updated_at":      now,
		}
		if billing.Status != billingdomain.BillingStatusOverdue {
			values["status"] = billingdomain.BillingStatusOverdue
		}
		if billing.FineAppliedAt == nil {
			values["fine_amount"] = finance.Round2(accrual.Fine)
			values["fine_applied_at"] = now
		}

		if err := s.db.WithContext(ctx).
			Model(&billingdomain.Billing{}).
			Where("id = ?", billing.ID).
			Updates(values).Error; err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (s *Service) hasBillings(ctx context.Context, tenantID, contractID snowflake.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&billingdomain.Billing{}).
		Where("tenant_id = ? AND contract_id = ?", tenantID, contractID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) findBilling(ctx context.Context, tenantID, contractID snowflake.ID, refPeriod string) (*billingdomain.Billing, error) {
	var billing billingdomain.Billing
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contract_id = ? AND reference_period = ?", tenantID, contractID, refPeriod).
		First(&billing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &billing, nil
}

func (s *Service) deleteBilling(ctx context.Context, billingID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("billing_id = ?", billingID).Delete(&billingdomain.BillingItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", billingID).Delete(&billingdomain.Billing{}).Error
	})
}

// nextBillingNumber allocates {year}{month:02}{sequence:04} under the
// tenant+prefix. The max-scan is racy on its own; the unique index on
// (tenant_id, billing_number) is what actually prevents duplicates, and a
// losing insert surfaces as a duplicate-key skip upstream.
func (s *Service) nextBillingNumber(ctx context.Context, tenantID snowflake.ID, periodStart time.Time) (string, error) {
	prefix := fmt.Sprintf("%d%02d", periodStart.Year(), int(periodStart.Month()))

	var last string
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(billing_number), '')
		 FROM contract_billings
		 WHERE tenant_id = ? AND billing_number LIKE ?`,
		tenantID,
		prefix+"%",
	).Scan(&last).Error
	if err != nil {
		return "", err
	}

	sequence := 1
	if strings.HasPrefix(last, prefix) && len(last) > len(prefix) {
		if parsed, err := strconv.Atoi(last[len(prefix):]); err == nil {
			sequence = parsed + 1
		}
	}
	return fmt.Sprintf("%s%04d", prefix, sequence), nil
}

func validateServices(services []contractdomain.ContractService) error {
	for _, svc := range services {
		if svc.PaymentMethod == contractdomain.PaymentMethodCard && strings.TrimSpace(svc.CardBrand) == "" {
			return billingdomain.ErrCardBrandRequired
		}
	}
	return nil
}

// resolvePaymentTerms overrides the contract cadence with the first
// parsable billing_type label found on its services.
func resolvePaymentTerms(contract *contractdomain.Contract) {
	for _, svc := range contract.Services {
		if interval, ok := contractdomain.ParseIntervalLabel(svc.BillingType); ok {
			contract.BillingIntervalType = interval
			return
		}
	}
}

func primaryPaymentMethod(services []contractdomain.ContractService) contractdomain.PaymentMethod {
	for _, svc := range services {
		if svc.PaymentMethod != "" {
			return svc.PaymentMethod
		}
	}
	return contractdomain.PaymentMethodBoleto
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
