package admin

import (
	handlershared "github.com/partnerledger/internal/http/handlers/shared"
	"github.com/partnerledger/internal/models"
	"github.com/partnerledger/internal/provider"
	"github.com/partnerledger/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 后台管理接口处理器入口
// 说明：该处理器仅用于运营后台 API，鉴权与 RBAC 由路由中间件完成。
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	return handlershared.RequestLog(c)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func respondServiceError(c *gin.Context, err error) {
	handlershared.RespondServiceError(c, err)
}

func (h *Handler) recordAudit(c *gin.Context, action string, detail models.JSON) {
	h.OperatorAuditService.Record(c.Request.Context(), service.OperatorAuditInput{
		OperatorID: handlershared.OperatorID(c),
		Action:     action,
		Object:     c.Request.URL.Path,
		Method:     c.Request.Method,
		RequestID:  handlershared.RequestID(c),
		Detail:     detail,
	})
}
