package domain

import "errors"

var (
	ErrContractNotBillable = errors.New("contract_not_billable")
	ErrNoServices          = errors.New("contract_has_no_services")
	ErrCardBrandRequired   = errors.New("card_brand_required")
	ErrBillingExists       = errors.New("billing_already_exists")
	ErrBillingNotFound     = errors.New("billing_not_found")
	ErrInvalidInterval     = errors.New("invalid_billing_interval")
	ErrNotRetroactive      = errors.New("contract_not_eligible_for_retroactive_billing")
)
