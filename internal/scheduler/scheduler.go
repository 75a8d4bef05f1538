// Package scheduler drives the periodic billing jobs: generation,
// gateway integration, status polling, cancellation processing and
// overdue accrual. Jobs run sequentially per tenant so one tenant's
// failure never blocks another's run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	"github.com/faturo/faturo/internal/clock"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/faturo/faturo/internal/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	BillingSvc billingdomain.Service
	ChargeSvc  chargedomain.Service
	Metrics    *metrics.Metrics `optional:"true"`
	Config     Config           `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	metrics    *metrics.Metrics
	billingSvc billingdomain.Service
	chargeSvc  chargedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.BillingSvc == nil || p.ChargeSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		metrics:    p.Metrics,
		billingSvc: p.BillingSvc,
		chargeSvc:  p.ChargeSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	s.metrics.IncJobRun(name)
	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}
	s.metrics.IncJobError(name)

	// A deadline is a soft timeout: the next run picks up where this one
	// stopped, so it is logged but not propagated.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job once, in dependency order:
// generation feeds integration, integration feeds polling.
func (s *Scheduler) RunOnce(parent context.Context) error {
	tenants, err := s.tenants(parent)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if len(tenants) == 0 {
		return nil
	}

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"generate_billings", func(ctx context.Context) error { return s.GenerateBillingsJob(ctx, tenants) }},
		{"integrate_charges", func(ctx context.Context) error { return s.IntegrateChargesJob(ctx, tenants) }},
		{"sync_charge_statuses", func(ctx context.Context) error { return s.SyncChargeStatusesJob(ctx, tenants) }},
		{"process_cancellations", func(ctx context.Context) error { return s.ProcessCancellationsJob(ctx, tenants) }},
		{"apply_overdue_charges", func(ctx context.Context) error { return s.ApplyOverdueChargesJob(ctx, tenants) }},
	}

	var runErr error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		runErr = errors.Join(runErr, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// GenerateBillingsJob materializes due billing periods for every billable
// contract. Per-contract failures are reported by the billing service
// without aborting the tenant's batch.
func (s *Scheduler) GenerateBillingsJob(ctx context.Context, tenants []snowflake.ID) error {
	now := s.clock.Now()
	var jobErr error

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		contracts, err := s.billingSvc.FetchBillableContracts(ctx, tenantID)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if len(contracts) == 0 {
			continue
		}

		result, err := s.billingSvc.GenerateBillings(ctx, tenantID, contracts, now, billingdomain.GenerateOptions{
			AutoIntegrate: true,
		})
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		for _, failure := range result.Errors {
			jobErr = errors.Join(jobErr, fmt.Errorf("contract %s: %w", failure.ContractID, failure.Err))
		}
		if len(result.Generated) > 0 || len(result.Errors) > 0 {
			s.log.Info("billings generated",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("generated", len(result.Generated)),
				zap.Int("skipped", result.Skipped),
				zap.Int("failed", len(result.Errors)))
		}
	}
	return jobErr
}

// IntegrateChargesJob sweeps billings that should have a gateway charge
// but do not: fresh NOT_SYNCED rows whose inline integration was skipped
// or crashed, and SYNC_FAILED rows due for a retry.
func (s *Scheduler) IntegrateChargesJob(ctx context.Context, tenants []snowflake.ID) error {
	var jobErr error

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		billingIDs, err := s.fetchBillingsNeedingCharge(ctx, tenantID)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}

		integrated := 0
		for _, billingID := range billingIDs {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			if err := s.chargeSvc.CreateExternalCharge(ctx, billingID, "", false); err != nil {
				jobErr = errors.Join(jobErr, fmt.Errorf("billing %s: %w", billingID, err))
				continue
			}
			integrated++
		}
		if integrated > 0 {
			s.log.Info("charges integrated",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("integrated", integrated))
		}
	}
	return jobErr
}

func (s *Scheduler) SyncChargeStatusesJob(ctx context.Context, tenants []snowflake.ID) error {
	var jobErr error

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		synced, err := s.chargeSvc.SyncChargeStatuses(ctx, tenantID, s.cfg.BatchSize)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if synced > 0 {
			s.log.Info("charge statuses synced",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("synced", synced))
		}
	}
	return jobErr
}

func (s *Scheduler) ProcessCancellationsJob(ctx context.Context, tenants []snowflake.ID) error {
	var jobErr error

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		processed, err := s.chargeSvc.ProcessPendingCancellations(ctx, tenantID)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if processed > 0 {
			s.log.Info("cancellations processed",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("processed", processed))
		}
	}
	return jobErr
}

func (s *Scheduler) ApplyOverdueChargesJob(ctx context.Context, tenants []snowflake.ID) error {
	today := s.clock.Now()
	var jobErr error

	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		updated, err := s.billingSvc.ApplyOverdueCharges(ctx, tenantID, today)
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if updated > 0 {
			s.log.Info("overdue charges applied",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("updated", updated))
		}
	}
	return jobErr
}

func (s *Scheduler) tenants(ctx context.Context) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&contractdomain.Contract{}).
		Distinct("tenant_id").
		Order("tenant_id ASC").
		Pluck("tenant_id", &ids).Error
	return ids, err
}

func (s *Scheduler) fetchBillingsNeedingCharge(ctx context.Context, tenantID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&billingdomain.Billing{}).
		Joins("JOIN contracts ON contracts.id = contract_billings.contract_id").
		Where("contract_billings.tenant_id = ?", tenantID).
		Where("contract_billings.sync_status IN ?", []billingdomain.SyncStatus{
			billingdomain.SyncStatusNotSynced,
			billingdomain.SyncStatusSyncFailed,
		}).
		Where("contract_billings.status IN ?", []billingdomain.BillingStatus{
			billingdomain.BillingStatusScheduled,
			billingdomain.BillingStatusPending,
		}).
		Where("contracts.auto_integrate_gateway = ?", true).
		Order("contract_billings.due_date ASC").
		Limit(s.cfg.BatchSize).
		Pluck("contract_billings.id", &ids).Error
	return ids, err
}
