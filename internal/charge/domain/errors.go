package domain

import "errors"

var (
	ErrChargeExists     = errors.New("charge_already_exists")
	ErrChargeNotFound   = errors.New("charge_not_found")
	ErrConfigNotFound   = errors.New("gateway_config_not_found")
	ErrContractNotFound = errors.New("contract_not_found")
	ErrNoProvider       = errors.New("no_gateway_provider")
)
