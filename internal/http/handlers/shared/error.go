package shared

import (
	"errors"

	"github.com/tiernet/internal/http/response"
	"github.com/tiernet/internal/logger"
	"github.com/tiernet/internal/service"

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

// RespondError 返回错误响应；有原始错误时 5xx 记 error，其余记 warn
func RespondError(c *gin.Context, code int, msg string, err error) {
	if err != nil {
		log := RequestLog(c)
		if code >= response.CodeInternal {
			log.Errorw("handler_error", "code", code, "message", msg, "error", err)
		} else {
			log.Warnw("handler_rejected", "code", code, "message", msg, "error", err)
		}
	}
	response.Error(c, code, msg)
}

// mappedServiceError 业务错误到接口错误码的映射
type mappedServiceError struct {
	target error
	code   int
}

var serviceErrorRules = []mappedServiceError{
	{target: service.ErrStorage, code: response.CodeInternal},
	{target: service.ErrInvalidInput, code: response.CodeBadRequest},
	{target: service.ErrInvalidAmount, code: response.CodeBadRequest},
	{target: service.ErrInvalidMethod, code: response.CodeBadRequest},
	{target: service.ErrBelowMinimum, code: response.CodeBadRequest},
	{target: service.ErrAboveDailyLimit, code: response.CodeBadRequest},
	{target: service.ErrInsufficientBalance, code: response.CodeBadRequest},
	{target: service.ErrMemberInactive, code: response.CodeBadRequest},
	{target: service.ErrUnknownSponsor, code: response.CodeBadRequest},
	{target: service.ErrCycle, code: response.CodeBadRequest},
	{target: service.ErrDepthExceeded, code: response.CodeBadRequest},
	{target: service.ErrPlanInvalid, code: response.CodeBadRequest},
	{target: service.ErrWithdrawalForbidden, code: response.CodeForbidden},
	{target: service.ErrNotFound, code: response.CodeNotFound},
	{target: service.ErrUnknownMember, code: response.CodeNotFound},
	{target: service.ErrWithdrawalNotFound, code: response.CodeNotFound},
	{target: service.ErrDuplicateMember, code: response.CodeConflict},
	{target: service.ErrInvalidTransition, code: response.CodeConflict},
}

// ServiceErrorCode 按 errors.Is 解析业务错误对应的接口错误码
func ServiceErrorCode(err error) int {
	for _, rule := range serviceErrorRules {
		if errors.Is(err, rule.target) {
			return rule.code
		}
	}
	return response.CodeInternal
}

// RespondServiceError 返回业务错误；字段错误附带字段名，存储错误提示重试
func RespondServiceError(c *gin.Context, err error) {
	code := ServiceErrorCode(err)
	if code == response.CodeInternal {
		msg := "internal error"
		if errors.Is(err, service.ErrStorage) {
			msg = service.ErrStorage.Error()
		}
		RespondError(c, code, msg, err)
		return
	}
	var fieldErr *service.FieldError
	if errors.As(err, &fieldErr) {
		response.ErrorWithData(c, code, err.Error(), gin.H{"field": fieldErr.Field})
		return
	}
	response.Error(c, code, err.Error())
}
