package public

import (
	"errors"
	"io"
	"net/http"

	"github.com/partnerledger/internal/commerce"
	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
)

const webhookMaxBodyBytes = 1 << 20

// CommerceWebhook 接收支付平台实时事件：验签、入库、入队或同步处理
func (h *Handler) CommerceWebhook(c *gin.Context) {
	log := handlershared.RequestLog(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBodyBytes+1))
	if err != nil || len(body) > webhookMaxBodyBytes {
		log.Warnw("commerce_webhook_body_read_failed", "size", len(body), "error", err)
		response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "invalid body")
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for key := range c.Request.Header {
		headers[key] = c.Request.Header.Get(key)
	}

	ack, err := h.IngestionService.HandleWebhook(c.Request.Context(), service.WebhookInput{
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		switch {
		case errors.Is(err, commerce.ErrSignatureInvalid):
			log.Warnw("commerce_webhook_signature_invalid", "client_ip", c.ClientIP(), "error", err)
			response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "invalid signature")
		case errors.Is(err, commerce.ErrPayloadInvalid):
			log.Warnw("commerce_webhook_payload_invalid", "error", err)
			response.ErrorWithStatus(c, http.StatusBadRequest, response.CodeBadRequest, "invalid payload")
		default:
			// 非 2xx 让平台稍后重投
			log.Errorw("commerce_webhook_process_failed", "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, response.CodeInternal, "processing failed")
		}
		return
	}
	log.Infow("commerce_webhook_accepted",
		"event_id", ack.EventID,
		"event_type", ack.EventType,
		"duplicate", ack.Duplicate,
		"queued", ack.Queued,
		"outcome", ack.Outcome,
	)
	response.Success(c, ack)
}
