package response

// 业务状态码，通过响应体 status_code 返回
const (
	CodeOK                 = 0
	CodeBadRequest         = 400
	CodeNotFound           = 404
	CodeTooManyRequests    = 429
	CodeCanceled           = 499
	CodeInternal           = 500
	CodeServiceUnavailable = 503
)
