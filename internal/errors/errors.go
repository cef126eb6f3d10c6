package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorCode int

const (
	ErrInvalidConfig ErrorCode = iota + 1
	ErrInvalidRequestTarget
	ErrInterpreterUnavailable
	ErrInterpreterExecution
	ErrSinkDelivery
)

var codeNames = map[ErrorCode]string{
	ErrInvalidConfig:          "InvalidConfig",
	ErrInvalidRequestTarget:   "InvalidRequestTarget",
	ErrInterpreterUnavailable: "InterpreterUnavailable",
	ErrInterpreterExecution:   "InterpreterExecutionError",
	ErrSinkDelivery:           "SinkDeliveryFailure",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// GatewayError 网关内部错误，携带错误分类
type GatewayError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, &GatewayError{Code: X}) 按错误码匹配
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code ErrorCode, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, err error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链中第一个 GatewayError 的错误码，没有则返回 0
func CodeOf(err error) ErrorCode {
	var ge *GatewayError
	if stderrors.As(err, &ge) {
		return ge.Code
	}
	return 0
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &GatewayError{Code: code})
}
