package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/faturo/faturo/internal/gateway/adapters"
	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	"github.com/faturo/faturo/internal/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxCancellationAttempts = 5

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Registry *adapters.Registry
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	registry *adapters.Registry
	metrics  *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("charge.service"),
		genID:    p.GenID,
		registry: p.Registry,
		metrics:  p.Metrics,
	}
}

// CreateExternalCharge registers a billing with its payment provider. An
// existing charge with an external id is refused unless forceRecreate, in
// which case the old remote charge is cancelled best-effort and replaced.
func (s *Service) CreateExternalCharge(ctx context.Context, billingID snowflake.ID, providerCode string, forceRecreate bool) error {
	var billing billingdomain.Billing
	if err := s.db.WithContext(ctx).First(&billing, "id = ?", billingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billingdomain.ErrBillingNotFound
		}
		return err
	}

	provider := strings.ToLower(strings.TrimSpace(providerCode))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(billing.GatewayProvider))
	}
	if provider == "" {
		return chargedomain.ErrNoProvider
	}

	existing, err := s.findByBilling(ctx, billingID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ExternalID != "" && !forceRecreate {
		return chargedomain.ErrChargeExists
	}

	adapter, err := s.AdapterFor(ctx, billing.TenantID, provider)
	if err != nil {
		return err
	}

	var contract contractdomain.Contract
	if err := s.db.WithContext(ctx).First(&contract, "id = ?", billing.ContractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chargedomain.ErrContractNotFound
		}
		return err
	}

	if existing != nil && existing.ExternalID != "" && forceRecreate {
		// Best effort: a dangling remote charge is preferable to a blocked
		// recreation.
		if err := adapter.CancelCharge(ctx, existing.ExternalID); err != nil {
			s.log.Warn("could not cancel previous remote charge",
				zap.String("external_id", existing.ExternalID),
				zap.Error(err))
		}
	}

	req := gatewaydomain.ChargeRequest{
		TenantID:  billing.TenantID,
		BillingID: billing.ID,
		Customer: gatewaydomain.Customer{
			Name:     contract.CustomerName,
			Document: contract.CustomerDocument,
			Email:    contract.CustomerEmail,
		},
		Amount:        billing.NetAmount,
		DueDate:       billing.DueDate,
		Description:   fmt.Sprintf("Billing %s (%s)", billing.BillingNumber, billing.ReferencePeriod),
		PaymentMethod: billing.PaymentMethod,
		Reference:     billing.BillingNumber,
	}

	created, err := adapter.CreateCharge(ctx, req)
	if err != nil {
		s.metrics.IncGatewayCall(provider, "create_charge", "error")
		if markErr := s.markSyncFailed(ctx, billing.ID); markErr != nil {
			s.log.Error("could not mark billing sync failure",
				zap.String("billing_id", billing.ID.String()),
				zap.Error(markErr))
		}
		return err
	}
	s.metrics.IncGatewayCall(provider, "create_charge", "success")

	now := time.Now().UTC()
	charge := chargedomain.Charge{
		ID:         s.genID.Generate(),
		TenantID:   billing.TenantID,
		BillingID:  billing.ID,
		Provider:   provider,
		ExternalID: created.ExternalID,
		Status:     created.Status,
		RawStatus:  created.RawStatus,
		PaymentURL: created.PaymentURL,
		Barcode:    created.Barcode,
		PixCode:    created.PixCode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing != nil {
			charge.ID = existing.ID
			charge.CreatedAt = existing.CreatedAt
			if err := tx.Save(&charge).Error; err != nil {
				return err
			}
		} else if err := tx.Create(&charge).Error; err != nil {
			return err
		}

		values := map[string]any{
			"external_id":      created.ExternalID,
			"gateway_provider": provider,
			"sync_status":      billingdomain.SyncStatusSynced,
			"updated_at":       now,
		}
		if billing.Status == billingdomain.BillingStatusScheduled {
			values["status"] = billingdomain.BillingStatusPending
		}
		return tx.Model(&billingdomain.Billing{}).
			Where("id = ?", billing.ID).
			Updates(values).Error
	})
}

// SyncChargeStatuses polls the provider for every open charge of the
// tenant, oldest sync first, and applies the same transition rules the
// webhook path uses.
func (s *Service) SyncChargeStatuses(ctx context.Context, tenantID snowflake.ID, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var charges []chargedomain.Charge
	err := s.db.WithContext(ctx).
		Joins("JOIN contract_billings ON contract_billings.id = charges.billing_id").
		Where("charges.tenant_id = ? AND charges.external_id <> ''", tenantID).
		Where("contract_billings.status IN ?", []billingdomain.BillingStatus{
			billingdomain.BillingStatusPending,
			billingdomain.BillingStatusPartiallyPaid,
			billingdomain.BillingStatusOverdue,
		}).
		Order("charges.last_sync_at ASC").
		Limit(limit).
		Find(&charges).Error
	if err != nil {
		return 0, err
	}

	synced := 0
	adaptersByProvider := map[string]gatewaydomain.Adapter{}
	for _, charge := range charges {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}

		adapter, ok := adaptersByProvider[charge.Provider]
		if !ok {
			adapter, err = s.AdapterFor(ctx, tenantID, charge.Provider)
			if err != nil {
				s.log.Warn("skipping charges without usable gateway config",
					zap.String("provider", charge.Provider),
					zap.Error(err))
				adaptersByProvider[charge.Provider] = nil
				continue
			}
			adaptersByProvider[charge.Provider] = adapter
		}
		if adapter == nil {
			continue
		}

		remote, err := adapter.GetChargeStatus(ctx, charge.ExternalID)
		if err != nil {
			s.metrics.IncGatewayCall(charge.Provider, "get_status", "error")
			s.log.Warn("charge status poll failed",
				zap.String("external_id", charge.ExternalID),
				zap.Error(err))
			continue
		}
		s.metrics.IncGatewayCall(charge.Provider, "get_status", "success")

		if _, err := s.ApplyExternalStatus(ctx, charge.Provider, charge.ExternalID, chargedomain.StatusUpdate{
			Status:     remote.Status,
			RawStatus:  remote.RawStatus,
			PaidAmount: remote.PaidAmount,
			PaidAt:     remote.PaidAt,
		}); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// RequestCancellation enqueues an asynchronous remote cancellation for the
// billing's charge.
func (s *Service) RequestCancellation(ctx context.Context, billingID snowflake.ID, reason string) error {
	charge, err := s.findByBilling(ctx, billingID)
	if err != nil {
		return err
	}
	if charge == nil || charge.ExternalID == "" {
		return chargedomain.ErrChargeNotFound
	}

	now := time.Now().UTC()
	cancellation := chargedomain.ChargeCancellation{
		ID:        s.genID.Generate(),
		TenantID:  charge.TenantID,
		ChargeID:  charge.ID,
		Status:    chargedomain.CancellationPending,
		Reason:    reason,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Create(&cancellation).Error
}

// ProcessPendingCancellations drains the cancellation queue for one tenant.
// FAILED rows are retried until the attempt budget runs out.
func (s *Service) ProcessPendingCancellations(ctx context.Context, tenantID snowflake.ID) (int, error) {
	var queue []chargedomain.ChargeCancellation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND attempt_count < ?",
			tenantID,
			[]chargedomain.CancellationStatus{chargedomain.CancellationPending, chargedomain.CancellationFailed},
			maxCancellationAttempts).
		Order("created_at").
		Find(&queue).Error
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, item := range queue {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := s.processCancellation(ctx, item); err != nil {
			s.log.Warn("cancellation attempt failed",
				zap.String("cancellation_id", item.ID.String()),
				zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *Service) processCancellation(ctx context.Context, item chargedomain.ChargeCancellation) error {
	if err := s.setCancellationStatus(ctx, item.ID, chargedomain.CancellationProcessing, ""); err != nil {
		return err
	}

	var charge chargedomain.Charge
	if err := s.db.WithContext(ctx).First(&charge, "id = ?", item.ChargeID).Error; err != nil {
		_ = s.failCancellation(ctx, item.ID, "charge row missing")
		return err
	}

	adapter, err := s.AdapterFor(ctx, charge.TenantID, charge.Provider)
	if err != nil {
		_ = s.failCancellation(ctx, item.ID, err.Error())
		return err
	}

	if err := adapter.CancelCharge(ctx, charge.ExternalID); err != nil && !errors.Is(err, gatewaydomain.ErrChargeNotFound) {
		s.metrics.IncGatewayCall(charge.Provider, "cancel_charge", "error")
		_ = s.failCancellation(ctx, item.ID, err.Error())
		return err
	}
	s.metrics.IncGatewayCall(charge.Provider, "cancel_charge", "success")

	if _, err := s.ApplyExternalStatus(ctx, charge.Provider, charge.ExternalID, chargedomain.StatusUpdate{
		Status: gatewaydomain.ChargeStatusCancelled,
	}); err != nil {
		return err
	}
	return s.setCancellationStatus(ctx, item.ID, chargedomain.CancellationCompleted, "")
}

// ApplyExternalStatus is the single transition point shared by the webhook
// and polling paths. Stale or regressive updates leave the billing as-is
// while the charge row still records the provider's latest word.
func (s *Service) ApplyExternalStatus(ctx context.Context, provider, externalID string, update chargedomain.StatusUpdate) (*chargedomain.Charge, error) {
	charge, err := s.FindByExternalID(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{
			"status":       update.Status,
			"last_sync_at": now,
			"updated_at":   now,
		}
		if update.RawStatus != "" {
			values["raw_status"] = update.RawStatus
		}
		if update.PaidAmount.IsPositive() {
			values["paid_amount"] = update.PaidAmount
		}
		if update.PaidAt != nil {
			values["paid_at"] = update.PaidAt
		}
		if err := tx.Model(&chargedomain.Charge{}).Where("id = ?", charge.ID).Updates(values).Error; err != nil {
			return err
		}

		target, ok := chargedomain.BillingStatusFor(update.Status)
		if !ok {
			return nil
		}

		var billing billingdomain.Billing
		if err := tx.First(&billing, "id = ?", charge.BillingID).Error; err != nil {
			return err
		}
		if !billingdomain.CanTransition(billing.Status, target) {
			s.log.Debug("charge status update ignored for billing",
				zap.String("billing_id", billing.ID.String()),
				zap.String("from", string(billing.Status)),
				zap.String("to", string(target)))
			return nil
		}
		return tx.Model(&billingdomain.Billing{}).
			Where("id = ?", billing.ID).
			Updates(map[string]any{"status": target, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	charge.Status = update.Status
	if update.PaidAmount.IsPositive() {
		charge.PaidAmount = update.PaidAmount
	}
	if update.PaidAt != nil {
		charge.PaidAt = update.PaidAt
	}
	return charge, nil
}

// AdapterFor loads the tenant's provider config and builds an adapter. The
// config is validated before any adapter exists, so misconfigured tenants
// never reach the network.
func (s *Service) AdapterFor(ctx context.Context, tenantID snowflake.ID, provider string) (gatewaydomain.Adapter, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	var cfg gatewaydomain.GatewayConfig
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chargedomain.ErrConfigNotFound
		}
		return nil, err
	}
	return s.registry.NewAdapter(provider, cfg)
}

// FindByExternalID resolves the local charge mirror for a provider charge.
func (s *Service) FindByExternalID(ctx context.Context, provider, externalID string) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := s.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", strings.ToLower(strings.TrimSpace(provider)), externalID).
		First(&charge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chargedomain.ErrChargeNotFound
		}
		return nil, err
	}
	return &charge, nil
}

func (s *Service) findByBilling(ctx context.Context, billingID snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := s.db.WithContext(ctx).First(&charge, "billing_id = ?", billingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &charge, nil
}

func (s *Service) markSyncFailed(ctx context.Context, billingID snowflake.ID) error {
	return s.db.WithContext(ctx).Model(&billingdomain.Billing{}).
		Where("id = ?", billingID).
		Updates(map[string]any{
			"sync_status": billingdomain.SyncStatusSyncFailed,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (s *Service) setCancellationStatus(ctx context.Context, id snowflake.ID, status chargedomain.CancellationStatus, lastError string) error {
	return s.db.WithContext(ctx).Model(&chargedomain.ChargeCancellation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Service) failCancellation(ctx context.Context, id snowflake.ID, reason string) error {
	return s.db.WithContext(ctx).Model(&chargedomain.ChargeCancellation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        chargedomain.CancellationFailed,
			"last_error":    reason,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    time.Now().UTC(),
		}).Error
}
