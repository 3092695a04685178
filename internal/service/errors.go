package service

import (
	"context"
	"errors"
	"fmt"
)

// 折扣码服务错误
var (
	ErrDiscountCountInvalid   = errors.New("discount code count out of range")
	ErrDiscountCanceled       = errors.New("discount operation canceled")
	ErrDiscountGenerateFailed = errors.New("discount code generation failed")
	ErrDiscountRedeemFailed   = errors.New("discount code redemption failed")
	ErrDiscountFetchFailed    = errors.New("discount code fetch failed")
	ErrDiscountListInvalid    = errors.New("discount code list filter invalid")
)

// canceledError 包装上下文取消错误，保留原始 context 错误供 errors.Is 判断
func canceledError(err error) error {
	if err == nil {
		err = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrDiscountCanceled, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
