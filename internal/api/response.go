package api

import (
	"errors"
	"net/http"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/gin-gonic/gin"
)

// Response 统一响应格式
type Response struct {
	Code    int         `json:"code"`    // 0 表示成功
	Message string      `json:"message"` // 响应消息
	Data    interface{} `json:"data"`
}

// ErrorResponse 错误响应格式
// Notice 为本地化提示,前端以非阻塞提示展示
type ErrorResponse struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"` // 领域错误码
	Message string `json:"message"`
	Notice  string `json:"notice,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// PaginatedResponse 分页响应格式
type PaginatedResponse struct {
	Code       int            `json:"code"`
	Message    string         `json:"message"`
	Data       interface{}    `json:"data"`
	Pagination PaginationInfo `json:"pagination"`
}

// PaginationInfo 分页信息
type PaginationInfo struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"total_page"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Paginated 分页响应
func Paginated(c *gin.Context, data interface{}, pagination PaginationInfo) {
	c.JSON(http.StatusOK, PaginatedResponse{
		Code:       0,
		Message:    "success",
		Data:       data,
		Pagination: pagination,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string, detail string) {
	statusCode := http.StatusInternalServerError
	if code >= 400 && code < 600 {
		statusCode = code
	}

	c.JSON(statusCode, ErrorResponse{
		Code:    code,
		Message: message,
		Notice:  T(c, noticeKeyForStatus(statusCode)),
		Detail:  detail,
	})
}

// StatusFor 领域错误码对应的 HTTP 状态码
func StatusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotAuthorized:
		return http.StatusForbidden
	case domain.CodeAlreadySigned, domain.CodeNotReady, domain.CodeInvalidTransition:
		return http.StatusConflict
	case domain.CodeNotConfigured:
		return http.StatusOK
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeGenerationFailed:
		return http.StatusUnprocessableEntity
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RespondError 按领域错误码输出错误响应
func RespondError(c *gin.Context, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		_ = c.Error(err)
		Error(c, http.StatusInternalServerError, "internal server error", "")
		return
	}

	status := StatusFor(de.Code)
	if de.Code == domain.CodeNotConfigured {
		Success(c, gin.H{"configured": false})
		return
	}
	c.JSON(status, ErrorResponse{
		Code:    status,
		Reason:  string(de.Code),
		Message: de.Error(),
		Notice:  T(c, noticeKey(de.Code)),
	})
}

func noticeKey(code domain.Code) string {
	return "notice." + string(code)
}

func noticeKeyForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "error.bad_request"
	case http.StatusUnauthorized:
		return "error.unauthorized"
	case http.StatusForbidden:
		return "error.forbidden"
	case http.StatusNotFound:
		return "error.not_found"
	case http.StatusTooManyRequests:
		return "error.too_many_requests"
	}
	return "error.internal_error"
}
