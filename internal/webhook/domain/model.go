// Package domain contains the webhook event model used for replay
// protection and the reconciler's service interface.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventStatus is the processing outcome recorded for one inbound event.
type EventStatus string

const (
	EventStatusReceived  EventStatus = "RECEIVED"
	EventStatusProcessed EventStatus = "PROCESSED"
	EventStatusIgnored   EventStatus = "IGNORED"
	EventStatusDropped   EventStatus = "DROPPED"
	EventStatusFailed    EventStatus = "FAILED"
)

// WebhookEvent records one inbound provider notification. The unique
// (provider, event_key) index is the replay guard: a redelivery fails the
// insert and the handler acknowledges without reprocessing, unless the
// prior delivery finished FAILED, in which case the row is reopened and
// the work retried.
type WebhookEvent struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	TenantID    snowflake.ID   `gorm:"not null;index"`
	Provider    string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_key,priority:1"`
	EventKey    string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_key,priority:2"`
	EventType   string         `gorm:"type:text"`
	ExternalID  string         `gorm:"type:text;index"`
	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Status      EventStatus    `gorm:"type:text;not null;default:'RECEIVED'"`
	Error       string         `gorm:"type:text"`
	ReceivedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt *time.Time     `gorm:""`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }

var (
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrUnknownProvider       = errors.New("unknown_provider")
)

// Service ingests provider webhooks and reconciles charge state.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
