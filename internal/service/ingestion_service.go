package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/constants"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/metrics"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/repository"
)

// EventEnqueuer 事件异步处理队列
type EventEnqueuer interface {
	Enabled() bool
	EnqueueCommerceEvent(eventID string) error
}

// WebhookInput 回调原始请求
type WebhookInput struct {
	Headers map[string]string
	Body    []byte
}

// WebhookAck 回调应答
type WebhookAck struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Duplicate bool         `json:"duplicate"`
	Queued    bool         `json:"queued"`
	Outcome   ApplyOutcome `json:"outcome,omitempty"`
}

// IngestionService 实时事件入库与处理
type IngestionService struct {
	provider commerce.Provider
	repo     repository.IngestionEventRepository
	ledger   *LedgerService
	queue    EventEnqueuer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewIngestionService 创建事件入库服务
func NewIngestionService(
	provider commerce.Provider,
	repo repository.IngestionEventRepository,
	ledger *LedgerService,
	queue EventEnqueuer,
	m *metrics.Metrics,
) *IngestionService {
	return &IngestionService{
		provider: provider,
		repo:     repo,
		ledger:   ledger,
		queue:    queue,
		metrics:  m,
		now:      time.Now,
	}
}

// HandleWebhook 校验签名后入库，已处理的事件直接应答
func (s *IngestionService) HandleWebhook(ctx context.Context, input WebhookInput) (*WebhookAck, error) {
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}
	event, err := s.provider.VerifyWebhook(input.Headers, input.Body, s.now())
	if err != nil {
		if errors.Is(err, commerce.ErrSignatureInvalid) {
			s.metrics.ObserveIngestion("invalid_signature")
		} else {
			s.metrics.ObserveIngestion("invalid_payload")
		}
		return nil, err
	}

	row := &models.IngestionEvent{
		EventID:    event.ID,
		Provider:   s.provider.Name(),
		EventType:  event.Type,
		Status:     constants.IngestionStatusPending,
		Payload:    string(input.Body),
		ReceivedAt: s.now().UTC(),
	}
	if _, err := s.repo.CreateIfAbsent(ctx, row); err != nil {
		return nil, err
	}
	stored, err := s.repo.GetByEventID(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	ack := &WebhookAck{EventID: event.ID, EventType: event.Type}
	if stored != nil && stored.Status == constants.IngestionStatusProcessed {
		ack.Duplicate = true
		s.metrics.ObserveIngestion("duplicate")
		return ack, nil
	}

	if s.queue != nil && s.queue.Enabled() {
		err := s.queue.EnqueueCommerceEvent(event.ID)
		if err == nil {
			ack.Queued = true
			s.metrics.ObserveIngestion("queued")
			return ack, nil
		}
		// 入队失败时退回同步处理
		logger.Warnw("ingestion_enqueue_failed", "event_id", event.ID, "error", err)
	}

	outcome, err := s.process(ctx, stored, event)
	if errors.Is(err, ErrInvalidInput) {
		// 事件本身无法入账，重投也不会成功；已记为 failed，可在管理端重试
		ack.Outcome = OutcomeFailed
		return ack, nil
	}
	if err != nil {
		return nil, err
	}
	ack.Outcome = outcome
	return ack, nil
}

// ProcessEvent 处理已入库的事件，供队列与手动重试调用
func (s *IngestionService) ProcessEvent(ctx context.Context, eventID string) (ApplyOutcome, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("%w: event id is empty", ErrInvalidInput)
	}
	stored, err := s.repo.GetByEventID(ctx, eventID)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", ErrEventNotFound
	}
	if stored.Status == constants.IngestionStatusProcessed {
		return OutcomeDuplicate, nil
	}
	if s.provider == nil {
		return "", ErrProviderUnavailable
	}
	event, err := s.provider.ParseEvent([]byte(stored.Payload))
	if err != nil {
		s.markFailed(ctx, eventID, err)
		return "", err
	}
	return s.process(ctx, stored, event)
}

// RetryEvent 手动重试失败事件
func (s *IngestionService) RetryEvent(ctx context.Context, eventID string) (ApplyOutcome, error) {
	return s.ProcessEvent(ctx, eventID)
}

// ListEvents 查询入库事件
func (s *IngestionService) ListEvents(ctx context.Context, filter repository.IngestionEventListFilter) ([]models.IngestionEvent, int64, error) {
	return s.repo.List(ctx, filter)
}

func (s *IngestionService) process(ctx context.Context, stored *models.IngestionEvent, event *commerce.Event) (ApplyOutcome, error) {
	if stored == nil || event == nil {
		return "", ErrEventNotFound
	}
	outcome, err := s.ledger.ApplyEvent(ctx, *event, ApplyOptions{Source: constants.SourceWebhook})
	if err != nil {
		s.markFailed(ctx, stored.EventID, err)
		return "", err
	}
	marked, err := s.repo.MarkProcessed(ctx, stored.EventID, s.now().UTC())
	if err != nil {
		return "", err
	}
	if !marked {
		s.metrics.ObserveIngestion("duplicate")
		return OutcomeDuplicate, nil
	}
	s.metrics.ObserveIngestion("processed")
	logger.Infow("ingestion_event_processed",
		"event_id", stored.EventID,
		"event_type", stored.EventType,
		"outcome", outcome,
	)
	return outcome, nil
}

func (s *IngestionService) markFailed(ctx context.Context, eventID string, cause error) {
	s.metrics.ObserveIngestion("failed")
	logger.Warnw("ingestion_event_failed", "event_id", eventID, "error", cause)
	if err := s.repo.MarkFailed(context.WithoutCancel(ctx), eventID, cause.Error()); err != nil {
		logger.Errorw("ingestion_mark_failed_error", "event_id", eventID, "error", err)
	}
}
