package public

import (
	"errors"

	"github.com/discount-system/internal/http/response"
	"github.com/discount-system/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	msgBadRequest         = "invalid request body"
	msgCountInvalid       = "count is out of range"
	msgListFilterInvalid  = "invalid list filter"
	msgCanceled           = "request canceled"
	msgGenerateFailed     = "failed to generate discount codes"
	msgRedeemFailed       = "failed to redeem discount code"
	msgFetchFailed        = "failed to fetch discount codes"
	msgQueueUnavailable   = "async generation is not enabled"
	msgEnqueueFailed      = "failed to enqueue generation task"
	msgRedeemed           = "discount code redeemed"
	msgNotRedeemable      = "discount code is invalid or already used"
	msgGenerateIncomplete = "generated fewer codes than requested"
	msgServiceUnhealthy   = "service unhealthy"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var discountErrorRules = []mappedHandlerError{
	{target: service.ErrDiscountCountInvalid, code: response.CodeBadRequest, msg: msgCountInvalid},
	{target: service.ErrDiscountListInvalid, code: response.CodeBadRequest, msg: msgListFilterInvalid},
	{target: service.ErrDiscountCanceled, code: response.CodeCanceled, msg: msgCanceled},
}
