package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	"github.com/faturo/faturo/internal/config"
	financedomain "github.com/faturo/faturo/internal/financeentry/domain"
	"github.com/faturo/faturo/internal/gateway/adapters"
	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	"github.com/faturo/faturo/internal/metrics"
	webhookdomain "github.com/faturo/faturo/internal/webhook/domain"
	"github.com/faturo/faturo/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Registry *adapters.Registry
	Charges  chargedomain.Service
	Ledger   financedomain.Service `optional:"true"`
	Metrics  *metrics.Metrics      `optional:"true"`
	Cfg      config.Config
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	registry *adapters.Registry
	charges  chargedomain.Service
	ledger   financedomain.Service
	metrics  *metrics.Metrics
	cfg      config.Config
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("webhook.service"),
		genID:    p.GenID,
		registry: p.Registry,
		charges:  p.Charges,
		ledger:   p.Ledger,
		metrics:  p.Metrics,
		cfg:      p.Cfg,
	}
}

// IngestWebhook verifies, deduplicates and applies one provider
// notification. The tenant is identified by whichever gateway config
// verifies the signature; a replayed event returns
// ErrEventAlreadyProcessed so the handler can acknowledge it.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.registry.ProviderExists(provider) {
		return webhookdomain.ErrUnknownProvider
	}

	cfg, adapter, err := s.matchConfig(ctx, provider, payload, headers)
	if err != nil {
		return err
	}

	data, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			// Unknown event types are acknowledged, not errors.
			s.recordEvent(ctx, cfg.TenantID, provider, payload, nil, webhookdomain.EventStatusIgnored, "")
			return nil
		}
		return err
	}
	s.metrics.IncWebhookEvent(provider, data.Event)

	event, err := s.insertEvent(ctx, cfg.TenantID, provider, payload, data)
	if err != nil {
		return err
	}

	// Some providers notify without a status; resolve it with one poll.
	if data.Status == gatewaydomain.ChargeStatusUnknown {
		remote, err := adapter.GetChargeStatus(ctx, data.ExternalID)
		if err != nil {
			s.metrics.IncGatewayCall(provider, "get_status", "error")
			s.finishEvent(ctx, event.ID, webhookdomain.EventStatusFailed, err.Error())
			return err
		}
		s.metrics.IncGatewayCall(provider, "get_status", "success")
		data.Status = remote.Status
		data.PaidAmount = remote.PaidAmount
		data.PaidAt = remote.PaidAt
	}

	charge, err := s.charges.ApplyExternalStatus(ctx, provider, data.ExternalID, chargedomain.StatusUpdate{
		Status:     data.Status,
		PaidAmount: data.PaidAmount,
		PaidAt:     data.PaidAt,
	})
	if err != nil {
		if errors.Is(err, chargedomain.ErrChargeNotFound) {
			// Nothing local to reconcile; drop the event and acknowledge so
			// the provider stops retrying.
			s.log.Warn("webhook for unknown charge dropped",
				zap.String("provider", provider),
				zap.String("external_id", data.ExternalID),
				zap.String("event", data.Event))
			s.finishEvent(ctx, event.ID, webhookdomain.EventStatusDropped, "charge not found")
			return nil
		}
		s.finishEvent(ctx, event.ID, webhookdomain.EventStatusFailed, err.Error())
		return err
	}

	if s.ledger != nil {
		if target, ok := chargedomain.BillingStatusFor(data.Status); ok {
			if _, err := s.ledger.UpdateFromWebhook(ctx, provider, charge.ExternalID, financedomain.Update{
				Status:     target,
				PaidAmount: data.PaidAmount,
				PaidAt:     data.PaidAt,
			}); err != nil {
				s.finishEvent(ctx, event.ID, webhookdomain.EventStatusFailed, err.Error())
				return err
			}
		}
	}

	s.finishEvent(ctx, event.ID, webhookdomain.EventStatusProcessed, "")
	return nil
}

// matchConfig finds the tenant config whose secret verifies the payload.
// In production a config without a webhook secret never matches.
func (s *Service) matchConfig(ctx context.Context, provider string, payload []byte, headers http.Header) (*gatewaydomain.GatewayConfig, gatewaydomain.Adapter, error) {
	var configs []gatewaydomain.GatewayConfig
	err := s.db.WithContext(ctx).
		Where("provider = ? AND active = ?", provider, true).
		Find(&configs).Error
	if err != nil {
		return nil, nil, err
	}
	if len(configs) == 0 {
		return nil, nil, gatewaydomain.ErrInvalidConfig
	}

	for i := range configs {
		cfg := configs[i]
		if s.cfg.IsProduction() && strings.TrimSpace(cfg.WebhookSecret) == "" {
			s.log.Warn("gateway config without webhook secret skipped in production",
				zap.String("provider", provider),
				zap.String("tenant_id", cfg.TenantID.String()))
			continue
		}
		adapter, err := s.registry.NewAdapter(provider, cfg)
		if err != nil {
			s.log.Warn("unusable gateway config skipped",
				zap.String("provider", provider),
				zap.String("tenant_id", cfg.TenantID.String()),
				zap.Error(err))
			continue
		}
		if err := adapter.Verify(ctx, payload, headers); err != nil {
			continue
		}
		return &cfg, adapter, nil
	}
	return nil, nil, gatewaydomain.ErrInvalidSignature
}

func (s *Service) insertEvent(ctx context.Context, tenantID snowflake.ID, provider string, payload []byte, data *gatewaydomain.WebhookData) (*webhookdomain.WebhookEvent, error) {
	event := &webhookdomain.WebhookEvent{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		Provider:   provider,
		EventKey:   eventKey(data, payload),
		EventType:  data.Event,
		ExternalID: data.ExternalID,
		Payload:    datatypes.JSON(payload),
		Status:     webhookdomain.EventStatusReceived,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.reopenFailedEvent(ctx, provider, event.EventKey)
		}
		return nil, err
	}
	return event, nil
}

// reopenFailedEvent resolves a duplicate-key insert against the existing
// event row. A row that finished FAILED is reopened so the provider's
// redelivery retries the work; any other outcome is a replay.
func (s *Service) reopenFailedEvent(ctx context.Context, provider, eventKey string) (*webhookdomain.WebhookEvent, error) {
	var existing webhookdomain.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("provider = ? AND event_key = ?", provider, eventKey).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.Status != webhookdomain.EventStatusFailed {
		return nil, webhookdomain.ErrEventAlreadyProcessed
	}

	err = s.db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"status":       webhookdomain.EventStatusReceived,
			"error":        "",
			"processed_at": nil,
		}).Error
	if err != nil {
		return nil, err
	}
	existing.Status = webhookdomain.EventStatusReceived
	existing.Error = ""
	existing.ProcessedAt = nil
	return &existing, nil
}

func (s *Service) recordEvent(ctx context.Context, tenantID snowflake.ID, provider string, payload []byte, data *gatewaydomain.WebhookData, status webhookdomain.EventStatus, message string) {
	now := time.Now().UTC()
	event := &webhookdomain.WebhookEvent{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		Provider:    provider,
		EventKey:    eventKey(data, payload),
		Payload:     datatypes.JSON(payload),
		Status:      status,
		Error:       message,
		ReceivedAt:  now,
		ProcessedAt: &now,
	}
	if data != nil {
		event.EventType = data.Event
		event.ExternalID = data.ExternalID
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		s.log.Error("could not record webhook event", zap.Error(err))
	}
}

func (s *Service) finishEvent(ctx context.Context, eventID snowflake.ID, status webhookdomain.EventStatus, message string) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&webhookdomain.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{
			"status":       status,
			"error":        message,
			"processed_at": now,
		}).Error
	if err != nil {
		s.log.Error("could not update webhook event status",
			zap.String("event_id", eventID.String()),
			zap.Error(err))
	}
}

// eventKey is the replay-protection key: the provider event id when one
// exists, otherwise a digest of the raw payload.
func eventKey(data *gatewaydomain.WebhookData, payload []byte) string {
	if data != nil && strings.TrimSpace(data.EventID) != "" {
		return data.EventID
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
