package shared

import (
	"errors"

	"github.com/partnerledger/internal/commerce"
	"github.com/partnerledger/internal/http/response"
	"github.com/partnerledger/internal/logger"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if requestID, ok := c.Get("request_id"); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		log := RequestLog(c)
		if code >= response.CodeInternal {
			log.Errorw("handler_error", "code", appErr.Code, "message", appErr.Message, "error", err)
		} else {
			log.Warnw("handler_error", "code", appErr.Code, "message", appErr.Message, "error", err)
		}
	}
	response.Error(c, appErr.Code, appErr.Message)
}

// RespondServiceError 按业务错误类型映射响应码
func RespondServiceError(c *gin.Context, err error) {
	code, msg := MapServiceError(err)
	RespondError(c, code, msg, err)
}

// MapServiceError 业务错误到响应码与提示
func MapServiceError(err error) (int, string) {
	switch {
	case err == nil:
		return response.CodeOK, "success"
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrAffiliateCodeInvalid),
		errors.Is(err, service.ErrCommissionPolicyInvalid),
		errors.Is(err, service.ErrPayoutMonthInvalid),
		errors.Is(err, service.ErrResyncDaysInvalid),
		errors.Is(err, service.ErrBackfillInvalid),
		errors.Is(err, commerce.ErrSignatureInvalid),
		errors.Is(err, commerce.ErrPayloadInvalid):
		return response.CodeBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrAffiliateNotFound),
		errors.Is(err, service.ErrAliasNotFound),
		errors.Is(err, service.ErrPayoutNotFound),
		errors.Is(err, service.ErrEventNotFound):
		return response.CodeNotFound, err.Error()
	case errors.Is(err, service.ErrAffiliateCodeExists),
		errors.Is(err, service.ErrAliasTokenTaken),
		errors.Is(err, service.ErrAliasLimitReached):
		return response.CodeConflict, err.Error()
	case errors.Is(err, service.ErrProviderUnavailable),
		errors.Is(err, commerce.ErrRequestFailed):
		return response.CodeUpstream, "commerce provider unavailable"
	default:
		return response.CodeInternal, "internal error"
	}
}
