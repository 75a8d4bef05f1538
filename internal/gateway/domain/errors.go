package domain

import "errors"

var (
	ErrInvalidConfig    = errors.New("invalid_gateway_config")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrChargeNotFound   = errors.New("charge_not_found")
	ErrRequestFailed    = errors.New("gateway_request_failed")
	ErrChargeNotCreated = errors.New("charge_not_created")
)
