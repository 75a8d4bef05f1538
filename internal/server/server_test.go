package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	"github.com/faturo/faturo/internal/clock"
	"github.com/faturo/faturo/internal/config"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	webhookdomain "github.com/faturo/faturo/internal/webhook/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type webhookCall struct {
	Provider string
	Payload  []byte
}

type fakeWebhookService struct {
	calls []webhookCall
	err   error
}

func (f *fakeWebhookService) IngestWebhook(_ context.Context, provider string, payload []byte, _ http.Header) error {
	f.calls = append(f.calls, webhookCall{Provider: provider, Payload: payload})
	return f.err
}

type generateCall struct {
	TenantID      snowflake.ID
	Contracts     []contractdomain.Contract
	ReferenceDate time.Time
	Opts          billingdomain.GenerateOptions
}

type fakeBillingService struct {
	contracts    []contractdomain.Contract
	result       billingdomain.Result
	generateCall *generateCall
	fetchErr     error
	generateErr  error
}

func (f *fakeBillingService) FetchBillableContracts(context.Context, snowflake.ID) ([]contractdomain.Contract, error) {
	return f.contracts, f.fetchErr
}

func (f *fakeBillingService) GenerateBillings(_ context.Context, tenantID snowflake.ID, contracts []contractdomain.Contract, referenceDate time.Time, opts billingdomain.GenerateOptions) (billingdomain.Result, error) {
	f.generateCall = &generateCall{TenantID: tenantID, Contracts: contracts, ReferenceDate: referenceDate, Opts: opts}
	return f.result, f.generateErr
}

func (f *fakeBillingService) ApplyOverdueCharges(context.Context, snowflake.ID, time.Time) (int, error) {
	return 0, nil
}

type fakeChargeService struct {
	createBilling  snowflake.ID
	createProvider string
	createForce    bool
	cancelBilling  snowflake.ID
	cancelReason   string
	createErr      error
	cancelErr      error
}

func (f *fakeChargeService) CreateExternalCharge(_ context.Context, billingID snowflake.ID, provider string, force bool) error {
	f.createBilling, f.createProvider, f.createForce = billingID, provider, force
	return f.createErr
}

func (f *fakeChargeService) SyncChargeStatuses(context.Context, snowflake.ID, int) (int, error) {
	return 0, nil
}

func (f *fakeChargeService) RequestCancellation(_ context.Context, billingID snowflake.ID, reason string) error {
	f.cancelBilling, f.cancelReason = billingID, reason
	return f.cancelErr
}

func (f *fakeChargeService) ProcessPendingCancellations(context.Context, snowflake.ID) (int, error) {
	return 0, nil
}

func (f *fakeChargeService) ApplyExternalStatus(context.Context, string, string, chargedomain.StatusUpdate) (*chargedomain.Charge, error) {
	return nil, chargedomain.ErrChargeNotFound
}

func (f *fakeChargeService) AdapterFor(context.Context, snowflake.ID, string) (gatewaydomain.Adapter, error) {
	return nil, chargedomain.ErrConfigNotFound
}

func (f *fakeChargeService) FindByExternalID(context.Context, string, string) (*chargedomain.Charge, error) {
	return nil, chargedomain.ErrChargeNotFound
}

type testEnv struct {
	server   *Server
	node     *snowflake.Node
	clock    *clock.FakeClock
	billing  *fakeBillingService
	charges  *fakeChargeService
	webhooks *fakeWebhookService
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	env := &testEnv{
		node:     node,
		clock:    clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		billing:  &fakeBillingService{},
		charges:  &fakeChargeService{},
		webhooks: &fakeWebhookService{},
	}
	env.server = NewServer(Params{
		Cfg:        config.Config{},
		Log:        zaptest.NewLogger(t),
		Clock:      env.clock,
		Registry:   prometheus.NewRegistry(),
		BillingSvc: env.billing,
		ChargeSvc:  env.charges,
		WebhookSvc: env.webhooks,
	})
	return env
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_Accepted(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(http.MethodPost, "/webhooks/asaas", `{"event":"PAYMENT_RECEIVED"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.webhooks.calls, 1)
	assert.Equal(t, "asaas", env.webhooks.calls[0].Provider)
	assert.JSONEq(t, `{"event":"PAYMENT_RECEIVED"}`, string(env.webhooks.calls[0].Payload))
}

func TestWebhook_ReplayAcknowledged(t *testing.T) {
	env := newTestServer(t)
	env.webhooks.err = webhookdomain.ErrEventAlreadyProcessed

	rec := env.do(http.MethodPost, "/webhooks/asaas", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_BadSignatureUnauthorized(t *testing.T) {
	env := newTestServer(t)
	env.webhooks.err = gatewaydomain.ErrInvalidSignature

	rec := env.do(http.MethodPost, "/webhooks/asaas", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_UnknownProviderNotFound(t *testing.T) {
	env := newTestServer(t)
	env.webhooks.err = webhookdomain.ErrUnknownProvider

	rec := env.do(http.MethodPost, "/webhooks/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBillingRun_GeneratesForTenant(t *testing.T) {
	env := newTestServer(t)
	tenantID := env.node.Generate()
	contract := contractdomain.Contract{ID: env.node.Generate(), TenantID: tenantID}
	env.billing.contracts = []contractdomain.Contract{contract}
	env.billing.result = billingdomain.Result{
		Generated: []billingdomain.Generated{{
			Billing: billingdomain.Billing{
				ID:              env.node.Generate(),
				ContractID:      contract.ID,
				BillingNumber:   "2026030001",
				ReferencePeriod: "2026-03",
				DueDate:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
				NetAmount:       decimal.RequireFromString("189.00"),
				Status:          billingdomain.BillingStatusScheduled,
			},
		}},
		Skipped: 2,
	}

	body := `{"tenant_id":"` + tenantID.String() + `","reference_date":"2026-03-20","force_regenerate":true,"dry_run":true,"auto_integrate":true}`
	rec := env.do(http.MethodPost, "/api/v1/billing/runs", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.billing.generateCall)
	assert.Equal(t, tenantID, env.billing.generateCall.TenantID)
	assert.Equal(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), env.billing.generateCall.ReferenceDate)
	assert.True(t, env.billing.generateCall.Opts.ForceRegenerate)
	assert.True(t, env.billing.generateCall.Opts.DryRun)
	assert.True(t, env.billing.generateCall.Opts.AutoIntegrate)

	var resp billingRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.DryRun)
	assert.Equal(t, 2, resp.Skipped)
	require.Len(t, resp.Generated, 1)
	assert.Equal(t, "2026030001", resp.Generated[0].BillingNumber)
	assert.Equal(t, "189.00", resp.Generated[0].NetAmount)
	assert.Equal(t, "2026-03-10", resp.Generated[0].DueDate)
}

func TestBillingRun_DefaultsReferenceDateToClock(t *testing.T) {
	env := newTestServer(t)
	tenantID := env.node.Generate()

	rec := env.do(http.MethodPost, "/api/v1/billing/runs", `{"tenant_id":"`+tenantID.String()+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.billing.generateCall)
	assert.Equal(t, env.clock.Now(), env.billing.generateCall.ReferenceDate)
}

func TestBillingRun_FiltersContracts(t *testing.T) {
	env := newTestServer(t)
	tenantID := env.node.Generate()
	keep := contractdomain.Contract{ID: env.node.Generate(), TenantID: tenantID}
	drop := contractdomain.Contract{ID: env.node.Generate(), TenantID: tenantID}
	env.billing.contracts = []contractdomain.Contract{keep, drop}

	body := `{"tenant_id":"` + tenantID.String() + `","contract_ids":["` + keep.ID.String() + `"]}`
	rec := env.do(http.MethodPost, "/api/v1/billing/runs", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.billing.generateCall)
	require.Len(t, env.billing.generateCall.Contracts, 1)
	assert.Equal(t, keep.ID, env.billing.generateCall.Contracts[0].ID)
}

func TestBillingRun_InvalidBodyRejected(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(http.MethodPost, "/api/v1/billing/runs", `{"contract_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, env.billing.generateCall)
}

func TestCreateCharge(t *testing.T) {
	env := newTestServer(t)
	billingID := env.node.Generate()

	rec := env.do(http.MethodPost, "/api/v1/billings/"+billingID.String()+"/charge", `{"provider":"iugu","force_recreate":true}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billingID, env.charges.createBilling)
	assert.Equal(t, "iugu", env.charges.createProvider)
	assert.True(t, env.charges.createForce)
}

func TestCreateCharge_ExistingConflicts(t *testing.T) {
	env := newTestServer(t)
	env.charges.createErr = chargedomain.ErrChargeExists

	rec := env.do(http.MethodPost, "/api/v1/billings/"+env.node.Generate().String()+"/charge", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestCancellation(t *testing.T) {
	env := newTestServer(t)
	billingID := env.node.Generate()

	rec := env.do(http.MethodPost, "/api/v1/billings/"+billingID.String()+"/cancellation", `{"reason":"customer asked"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, billingID, env.charges.cancelBilling)
	assert.Equal(t, "customer asked", env.charges.cancelReason)
}

func TestRequestCancellation_MissingBillingNotFound(t *testing.T) {
	env := newTestServer(t)
	env.charges.cancelErr = billingdomain.ErrBillingNotFound

	rec := env.do(http.MethodPost, "/api/v1/billings/"+env.node.Generate().String()+"/cancellation", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
