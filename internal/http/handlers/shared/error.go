package shared

import (
	"github.com/discount-system/internal/http/response"
	"github.com/discount-system/internal/logger"

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

// RespondError 返回错误响应，原始错误只写日志不返回给调用方。
func RespondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		log := RequestLog(c).With("code", code, "message", msg, "error", err)
		if code >= response.CodeInternal {
			log.Error("handler_error")
		} else {
			log.Info("handler_rejected")
		}
	}
	response.Error(c, code, msg)
}
