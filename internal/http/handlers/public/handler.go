package public

import (
	"github.com/partnerledger/internal/provider"
)

// Handler 回调与定时触发接口处理器
// 说明：这些接口不走运营令牌，分别由平台签名与共享密钥保护。
type Handler struct {
	*provider.Container
}

// New 创建公开接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
