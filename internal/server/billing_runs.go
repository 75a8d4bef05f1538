package server

import (
	"net/http"
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type billingRunRequest struct {
	TenantID        string   `json:"tenant_id" binding:"required"`
	ContractIDs     []string `json:"contract_ids"`
	ReferenceDate   string   `json:"reference_date"`
	ForceRegenerate bool     `json:"force_regenerate"`
	DryRun          bool     `json:"dry_run"`
	AutoIntegrate   bool     `json:"auto_integrate"`
}

type billingRunBilling struct {
	ID              string `json:"id"`
	ContractID      string `json:"contract_id"`
	BillingNumber   string `json:"billing_number"`
	ReferencePeriod string `json:"reference_period"`
	DueDate         string `json:"due_date"`
	NetAmount       string `json:"net_amount"`
	Status          string `json:"status"`
	Retroactive     bool   `json:"retroactive"`
}

type billingRunError struct {
	ContractID string `json:"contract_id"`
	Error      string `json:"error"`
}

type billingRunResponse struct {
	DryRun    bool                `json:"dry_run"`
	Generated []billingRunBilling `json:"generated"`
	Skipped   int                 `json:"skipped"`
	Errors    []billingRunError   `json:"errors"`
}

// HandleBillingRun triggers one generation batch for a tenant. Contract
// failures come back in the response body; they never abort the batch.
func (s *Server) HandleBillingRun(c *gin.Context) {
	var req billingRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenantID, err := snowflake.ParseString(req.TenantID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	referenceDate := s.clock.Now()
	if req.ReferenceDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ReferenceDate)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		referenceDate = parsed
	}

	contracts, err := s.billingSvc.FetchBillableContracts(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(req.ContractIDs) > 0 {
		contracts, err = filterContracts(contracts, req.ContractIDs)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	result, err := s.billingSvc.GenerateBillings(c.Request.Context(), tenantID, contracts, referenceDate, billingdomain.GenerateOptions{
		ForceRegenerate: req.ForceRegenerate,
		DryRun:          req.DryRun,
		AutoIntegrate:   req.AutoIntegrate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := billingRunResponse{
		DryRun:    req.DryRun,
		Generated: make([]billingRunBilling, 0, len(result.Generated)),
		Skipped:   result.Skipped,
		Errors:    make([]billingRunError, 0, len(result.Errors)),
	}
	for _, generated := range result.Generated {
		resp.Generated = append(resp.Generated, billingRunBilling{
			ID:              generated.Billing.ID.String(),
			ContractID:      generated.Billing.ContractID.String(),
			BillingNumber:   generated.Billing.BillingNumber,
			ReferencePeriod: generated.Billing.ReferencePeriod,
			DueDate:         generated.Billing.DueDate.Format("2006-01-02"),
			NetAmount:       generated.Billing.NetAmount.StringFixed(2),
			Status:          string(generated.Billing.Status),
			Retroactive:     generated.Billing.Retroactive,
		})
	}
	for _, failure := range result.Errors {
		resp.Errors = append(resp.Errors, billingRunError{
			ContractID: failure.ContractID.String(),
			Error:      failure.Err.Error(),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func filterContracts(contracts []contractdomain.Contract, ids []string) ([]contractdomain.Contract, error) {
	wanted := make(map[snowflake.ID]struct{}, len(ids))
	for _, raw := range ids {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return nil, ErrInvalidRequest
		}
		wanted[id] = struct{}{}
	}

	filtered := contracts[:0:0]
	for _, contract := range contracts {
		if _, ok := wanted[contract.ID]; ok {
			filtered = append(filtered, contract)
		}
	}
	return filtered, nil
}
