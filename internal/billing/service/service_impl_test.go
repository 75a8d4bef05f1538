package service

import (
	"context"
	"testing"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE contracts (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			customer_id INTEGER NOT NULL,
			customer_name TEXT NOT NULL,
			customer_document TEXT,
			customer_email TEXT,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			billing_day INTEGER NOT NULL,
			due_day INTEGER NOT NULL,
			billing_interval INTEGER NOT NULL DEFAULT 1,
			billing_interval_type TEXT NOT NULL DEFAULT 'MONTHLY',
			discount_pct NUMERIC NOT NULL DEFAULT 0,
			start_date DATETIME NOT NULL,
			end_date DATETIME,
			auto_billing BOOLEAN NOT NULL DEFAULT 0,
			generate_billing BOOLEAN NOT NULL DEFAULT 0,
			auto_integrate_gateway BOOLEAN NOT NULL DEFAULT 0,
			gateway_provider TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE contract_services (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			contract_id INTEGER NOT NULL,
			service_name TEXT NOT NULL,
			quantity NUMERIC NOT NULL DEFAULT 1,
			unit_price NUMERIC NOT NULL,
			discount_pct NUMERIC NOT NULL DEFAULT 0,
			tax_pct NUMERIC NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL DEFAULT 'BOLETO',
			card_brand TEXT,
			billing_type TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE contract_billings (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			contract_id INTEGER NOT NULL,
			billing_number TEXT NOT NULL,
			reference_period TEXT NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			issue_date DATETIME NOT NULL,
			due_date DATETIME NOT NULL,
			gross_amount NUMERIC NOT NULL,
			discount_amount NUMERIC NOT NULL,
			tax_amount NUMERIC NOT NULL,
			net_amount NUMERIC NOT NULL,
			interest_amount NUMERIC NOT NULL DEFAULT 0,
			fine_amount NUMERIC NOT NULL DEFAULT 0,
			fine_applied_at DATETIME,
			status TEXT NOT NULL DEFAULT 'SCHEDULED',
			sync_status TEXT NOT NULL DEFAULT 'NOT_SYNCED',
			external_id TEXT,
			gateway_provider TEXT,
			payment_method TEXT NOT NULL DEFAULT 'BOLETO',
			retroactive BOOLEAN NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (contract_id, reference_period),
			UNIQUE (tenant_id, billing_number)
		)`,
		`CREATE TABLE contract_billing_items (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			billing_id INTEGER NOT NULL,
			service_name TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			unit_price NUMERIC NOT NULL,
			discount_pct NUMERIC NOT NULL DEFAULT 0,
			tax_pct NUMERIC NOT NULL DEFAULT 0,
			gross_amount NUMERIC NOT NULL,
			discount_amount NUMERIC NOT NULL,
			tax_amount NUMERIC NOT NULL,
			net_amount NUMERIC NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	t.Cleanup(func() {
		for _, table := range []string{"contract_billing_items", "contract_billings", "contract_services", "contracts"} {
			db.Exec("DROP TABLE IF EXISTS " + table)
		}
	})
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Billing: BillingConfig{
			HorizonMonths:      1,
			GraceDays:          0,
			MonthlyInterestPct: decimal.NewFromInt(1),
			FinePct:            decimal.NewFromInt(2),
		},
	}).(*Service)
	return svc, node
}

func seedContract(t *testing.T, db *gorm.DB, node *snowflake.Node, mutate func(*contractdomain.Contract)) contractdomain.Contract {
	t.Helper()
	contract := contractdomain.Contract{
		ID:                  node.Generate(),
		TenantID:            node.Generate(),
		CustomerID:          node.Generate(),
		CustomerName:        "ACME Ltda",
		Status:              contractdomain.ContractStatusActive,
		BillingDay:          1,
		DueDay:              10,
		BillingInterval:     1,
		BillingIntervalType: contractdomain.IntervalMonthly,
		StartDate:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AutoBilling:         true,
		GenerateBilling:     true,
	}
	if mutate != nil {
		mutate(&contract)
	}
	require.NoError(t, db.Create(&contract).Error)

	service := contractdomain.ContractService{
		ID:            node.Generate(),
		TenantID:      contract.TenantID,
		ContractID:    contract.ID,
		ServiceName:   "Hosting",
		Quantity:      decimal.NewFromInt(2),
		UnitPrice:     decimal.NewFromInt(100),
		DiscountPct:   decimal.NewFromInt(10),
		TaxPct:        decimal.NewFromInt(5),
		PaymentMethod: contractdomain.PaymentMethodBoleto,
		BillingType:   "Mensal",
	}
	require.NoError(t, db.Create(&service).Error)
	contract.Services = []contractdomain.ContractService{service}
	return contract
}

func TestGenerateBillings_CreatesBillingWithItems(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Generated, 1)

	billing := result.Generated[0].Billing
	assert.Equal(t, "2026-03", billing.ReferencePeriod)
	assert.Equal(t, "2026030001", billing.BillingNumber)
	assert.Equal(t, billingdomain.BillingStatusScheduled, billing.Status)
	assert.True(t, billing.GrossAmount.Equal(decimal.NewFromInt(200)), billing.GrossAmount.String())
	assert.True(t, billing.DiscountAmount.Equal(decimal.NewFromInt(20)))
	assert.True(t, billing.TaxAmount.Equal(decimal.NewFromInt(9)))
	assert.True(t, billing.NetAmount.Equal(decimal.NewFromInt(189)))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), billing.DueDate)

	var items []billingdomain.BillingItem
	require.NoError(t, db.Where("billing_id = ?", billing.ID).Find(&items).Error)
	require.Len(t, items, 1)
	assert.Equal(t, "Hosting", items[0].ServiceName)
}

func TestGenerateBillings_SecondRunSkips(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	first, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, first.Generated, 1)

	second, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, second.Generated)
	assert.Equal(t, 1, second.Skipped)

	var count int64
	require.NoError(t, db.Model(&billingdomain.Billing{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGenerateBillings_DryRunWritesNothing(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	assert.True(t, result.Generated[0].DryRun)
	assert.Equal(t, "PREVIEW", result.Generated[0].Billing.BillingNumber)

	var count int64
	require.NoError(t, db.Model(&billingdomain.Billing{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGenerateBillings_ForceRegenerate(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	first, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, first.Generated, 1)
	originalID := first.Generated[0].Billing.ID

	second, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{ForceRegenerate: true})
	require.NoError(t, err)
	require.Len(t, second.Generated, 1)
	assert.NotEqual(t, originalID, second.Generated[0].Billing.ID)

	var count int64
	require.NoError(t, db.Model(&billingdomain.Billing{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGenerateBillings_ForceRegenerateRefusesPaid(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	first, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, first.Generated, 1)

	require.NoError(t, db.Model(&billingdomain.Billing{}).
		Where("id = ?", first.Generated[0].Billing.ID).
		Update("status", billingdomain.BillingStatusPaid).Error)

	second, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{ForceRegenerate: true})
	require.NoError(t, err)
	require.Len(t, second.Errors, 1)
	assert.ErrorIs(t, second.Errors[0].Err, billingdomain.ErrBillingExists)
}

func TestGenerateBillings_RetroactiveBackfill(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, func(c *contractdomain.Contract) {
		c.StartDate = time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)
	})

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	// Dec, Jan, Feb back-fill plus the current March period.
	require.Len(t, result.Generated, 4)

	refs := make([]string, 0, len(result.Generated))
	for _, g := range result.Generated {
		refs = append(refs, g.Billing.ReferencePeriod)
	}
	assert.Equal(t, []string{"2025-12", "2026-01", "2026-02", "2026-03"}, refs)
	assert.True(t, result.Generated[0].Billing.Retroactive)
	assert.False(t, result.Generated[3].Billing.Retroactive)
}

func TestGenerateBillings_ContractFailureIsolated(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	healthy := seedContract(t, db, node, nil)

	broken := contractdomain.Contract{
		ID:                  node.Generate(),
		TenantID:            healthy.TenantID,
		CustomerID:          node.Generate(),
		CustomerName:        "No Services SA",
		Status:              contractdomain.ContractStatusActive,
		BillingDay:          1,
		DueDay:              10,
		BillingInterval:     1,
		BillingIntervalType: contractdomain.IntervalMonthly,
		StartDate:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AutoBilling:         true,
		GenerateBilling:     true,
	}
	require.NoError(t, db.Create(&broken).Error)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), healthy.TenantID,
		[]contractdomain.Contract{broken, healthy}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0].Err, billingdomain.ErrNoServices)
	assert.Equal(t, broken.ID, result.Errors[0].ContractID)
	require.Len(t, result.Generated, 1)
	assert.Equal(t, healthy.ID, result.Generated[0].Billing.ContractID)
}

func TestGenerateBillings_CardWithoutBrandRejected(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)
	contract.Services[0].PaymentMethod = contractdomain.PaymentMethodCard
	contract.Services[0].CardBrand = ""

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0].Err, billingdomain.ErrCardBrandRequired)
}

func TestGenerateBillings_BillingNumberSequencePerMonth(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	first := seedContract(t, db, node, nil)
	second := seedContract(t, db, node, func(c *contractdomain.Contract) {
		c.TenantID = first.TenantID
	})

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), first.TenantID,
		[]contractdomain.Contract{first, second}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Generated, 2)
	assert.Equal(t, "2026030001", result.Generated[0].Billing.BillingNumber)
	assert.Equal(t, "2026030002", result.Generated[1].Billing.BillingNumber)
}

func TestFetchBillableContracts(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	active := seedContract(t, db, node, nil)
	seedContract(t, db, node, func(c *contractdomain.Contract) {
		c.TenantID = active.TenantID
		c.Status = contractdomain.ContractStatusInactive
	})
	seedContract(t, db, node, func(c *contractdomain.Contract) {
		c.TenantID = active.TenantID
		c.AutoBilling = false
	})

	contracts, err := svc.FetchBillableContracts(context.Background(), active.TenantID)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	assert.Equal(t, active.ID, contracts[0].ID)
	require.Len(t, contracts[0].Services, 1)
}

func TestApplyOverdueCharges(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	result, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Generated, 1)
	billingID := result.Generated[0].Billing.ID

	// 10 days past the March 10 due date.
	today := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	updated, err := svc.ApplyOverdueCharges(context.Background(), contract.TenantID, today)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	var billing billingdomain.Billing
	require.NoError(t, db.First(&billing, "id = ?", billingID).Error)
	assert.Equal(t, billingdomain.BillingStatusOverdue, billing.Status)
	// fine: 189 * 2% = 3.78; interest: 189 * (1%/30) * 10 = 0.63
	assert.True(t, billing.FineAmount.Equal(decimal.RequireFromString("3.78")), billing.FineAmount.String())
	assert.True(t, billing.InterestAmount.Equal(decimal.RequireFromString("0.63")), billing.InterestAmount.String())
	require.NotNil(t, billing.FineAppliedAt)
	fineAt := *billing.FineAppliedAt

	// A later run accrues more interest but never re-applies the fine.
	later := time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC)
	updated, err = svc.ApplyOverdueCharges(context.Background(), contract.TenantID, later)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	require.NoError(t, db.First(&billing, "id = ?", billingID).Error)
	assert.True(t, billing.InterestAmount.Equal(decimal.RequireFromString("1.26")), billing.InterestAmount.String())
	assert.True(t, billing.FineAmount.Equal(decimal.RequireFromString("3.78")))
	require.NotNil(t, billing.FineAppliedAt)
	assert.Equal(t, fineAt.Unix(), billing.FineAppliedAt.Unix())
}

func TestApplyOverdueCharges_NotBeforeDue(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	contract := seedContract(t, db, node, nil)

	refDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.GenerateBillings(context.Background(), contract.TenantID,
		[]contractdomain.Contract{contract}, refDate, billingdomain.GenerateOptions{})
	require.NoError(t, err)

	updated, err := svc.ApplyOverdueCharges(context.Background(), contract.TenantID,
		time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, updated)
}
