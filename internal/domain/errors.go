package domain

import "errors"

// Code 错误码
type Code string

const (
	CodeNotAuthorized     Code = "NOT_AUTHORIZED"
	CodeAlreadySigned     Code = "ALREADY_SIGNED"
	CodeNotConfigured     Code = "NOT_CONFIGURED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeNotReady          Code = "NOT_READY"
	CodeGenerationFailed  Code = "GENERATION_FAILED"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
)

// Error 领域错误,按错误码匹配
type Error struct {
	Code    Code
	Message string
	Err     error
}

// 错误定义
var (
	ErrNotAuthorized     = &Error{Code: CodeNotAuthorized, Message: "not authorized"}
	ErrAlreadySigned     = &Error{Code: CodeAlreadySigned, Message: "already signed"}
	ErrNotConfigured     = &Error{Code: CodeNotConfigured, Message: "flow not configured"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNotReady          = &Error{Code: CodeNotReady, Message: "job not ready"}
	ErrGenerationFailed  = &Error{Code: CodeGenerationFailed, Message: "generation failed"}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid job transition"}
)

// NewError 创建领域错误
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError 包装底层错误
func WrapError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf 提取错误码,非领域错误返回空
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
