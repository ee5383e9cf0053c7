package errors

import (
	"errors"
	"time"
)

// Kind 错误类别，决定错误如何呈现给客户端
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindInvalidInput    Kind = "invalid_input"
	KindRateLimited     Kind = "rate_limited"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// ClientFacing 是否可以原样返回给客户端
// internal 错误只能以通用形式呈现
func (k Kind) ClientFacing() bool {
	return k != KindInternal && k != ""
}

type Error struct {
	Code       int           `json:"code"`                  // 错误码
	Kind       Kind          `json:"kind"`                  // 错误类别
	Reason     string        `json:"reason"`                // 具体原因码
	Message    string        `json:"message"`               // 错误信息
	Field      string        `json:"field,omitempty"`       // 出错字段（invalid_input）
	RetryAfter time.Duration `json:"-"`                     // 重试等待时间（rate_limited）
	HttpCode   int           `json:"-"`                     // http状态码
	Err        error         `json:"-"`                     // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Field != "" {
		return e.Reason + ": " + e.Field + ": " + e.Message
	}
	return e.Reason + ": " + e.Message
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// code 错误码
// kind 错误类别
// reason 原因码
// message 错误信息
func New(code int, kind Kind, reason, message string) *Error {
	return &Error{
		Code:     code,
		Kind:     kind,
		Reason:   reason,
		Message:  message,
		HttpCode: kind.HTTPStatus(),
	}
}

// HTTPStatus 类别对应的 http 状态码
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return 401
	case KindUnauthorized:
		return 403
	case KindInvalidInput:
		return 400
	case KindRateLimited:
		return 429
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	default:
		return 500
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	c := *e
	return &c
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 替换错误信息（返回新实例，不修改原错误）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// WithField 标记出错字段（返回新实例，不修改原错误）
func (e *Error) WithField(field string) *Error {
	c := e.Clone()
	c.Field = field
	return c
}

// WithRetryAfter 设置重试等待时间（返回新实例，不修改原错误）
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := e.Clone()
	c.RetryAfter = d
	return c
}

// As 转换为指定类型的错误
// target 目标错误类型指针
func (e *Error) As(target any) bool {
	return errors.As(e.Err, target)
}

// Is 检查错误是否为指定类型
// 当 target 也是 *Error 时，比较 Code 是否相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// From 将任意错误规整为 *Error
// 链路中不含 *Error 时视为 internal
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithError(err)
}

// KindOf 返回错误类别，nil 返回空字符串
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

// As 转换为指定类型的错误
// err 待转换错误
// target 目标错误类型指针（必须是指针类型）
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
// err 待检查错误
// target 目标错误类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// Join 合并多个错误
func Join(errs ...error) error {
	return errors.Join(errs...)
}
