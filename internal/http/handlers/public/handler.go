package public

import (
	handlershared "github.com/discount-system/internal/http/handlers/shared"
	"github.com/discount-system/internal/provider"

	"github.com/gin-gonic/gin"
)

// Handler 折扣码接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建接口处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}
