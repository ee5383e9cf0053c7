package config

import "github.com/tokmz/huddle/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3101, errors.KindInternal, "config_not_found", "config file not found")
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3102, errors.KindInternal, "config_read_failed", "config read failed")
	// ErrConfigDecode 配置解析失败
	ErrConfigDecode = errors.New(3103, errors.KindInternal, "config_decode_failed", "config decode failed")
)
