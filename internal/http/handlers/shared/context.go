package shared

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// 鉴权中间件写入的上下文键
const (
	ContextKeyOperatorID    = "operator_id"
	ContextKeyOperatorRoles = "operator_roles"
)

// OperatorID 读取当前运营人员标识
func OperatorID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	value, ok := c.Get(ContextKeyOperatorID)
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return strings.TrimSpace(id)
}

// OperatorRoles 读取令牌携带的角色
func OperatorRoles(c *gin.Context) []string {
	if c == nil {
		return nil
	}
	value, ok := c.Get(ContextKeyOperatorRoles)
	if !ok {
		return nil
	}
	roles, _ := value.([]string)
	return roles
}

// RequestID 读取请求 ID
func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	value, ok := c.Get("request_id")
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return id
}
