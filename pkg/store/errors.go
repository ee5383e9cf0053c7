package store

import "github.com/tokmz/huddle/pkg/errors"

// 预定义错误
var (
	ErrNotFound      = errors.ErrStoreNotFound
	ErrConnection    = errors.ErrStoreConnection
	ErrInvalidConfig = errors.ErrStoreInvalidConfig
	ErrOperation     = errors.ErrStoreOperation
)
