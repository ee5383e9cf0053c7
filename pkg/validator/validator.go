// Package validator 无状态的输入校验
// 所有检查都只依赖本地数据，失败时返回带字段名的 invalid_input 错误
package validator

import (
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"

	"github.com/tokmz/huddle/pkg/errors"
)

// Validator 输入校验器，并发安全
type Validator struct {
	cfg      Config
	roomID   *regexp.Regexp
	username *regexp.Regexp
	policy   *bluemonday.Policy
}

// New 创建校验器
func New(cfg Config) (*Validator, error) {
	cfg = cfg.withDefaults()

	roomID, err := regexp.Compile(cfg.RoomIDPattern)
	if err != nil {
		return nil, fmt.Errorf("validator: room id pattern: %w", err)
	}
	username, err := regexp.Compile(cfg.UsernamePattern)
	if err != nil {
		return nil, fmt.Errorf("validator: username pattern: %w", err)
	}

	return &Validator{
		cfg:      cfg,
		roomID:   roomID,
		username: username,
		policy:   bluemonday.StrictPolicy(),
	}, nil
}

// Default 使用默认限制创建校验器
func Default() *Validator {
	v, _ := New(DefaultConfig())
	return v
}

// Config 返回生效的限制
func (v *Validator) Config() Config {
	return v.cfg
}

// Text 校验文本：非空、合法 UTF-8、不超过上限、不含控制字符（换行和制表符除外）
func (v *Validator) Text(field, s string) error {
	if s == "" {
		return errors.ErrEmpty.WithField(field)
	}
	if !utf8.ValidString(s) {
		return errors.ErrInvalidUTF8.WithField(field)
	}
	if utf8.RuneCountInString(s) > v.cfg.MaxTextLength {
		return errors.ErrTooLong.WithField(field).
			WithMessage(fmt.Sprintf("must be at most %d characters", v.cfg.MaxTextLength))
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return errors.ErrBadCharset.WithField(field)
		}
	}
	return nil
}

// Binary 校验二进制帧大小
func (v *Validator) Binary(field string, b []byte) error {
	if len(b) == 0 {
		return errors.ErrEmpty.WithField(field)
	}
	if len(b) > v.cfg.MaxBinarySize {
		return errors.ErrTooLarge.WithField(field).
			WithMessage(fmt.Sprintf("must be at most %d bytes", v.cfg.MaxBinarySize))
	}
	return nil
}

// JSONSize 只校验序列化大小，用于出站消息
func (v *Validator) JSONSize(field string, raw []byte) error {
	if len(raw) > v.cfg.MaxJSONSize {
		return errors.ErrTooLarge.WithField(field).
			WithMessage(fmt.Sprintf("must be at most %d bytes", v.cfg.MaxJSONSize))
	}
	return nil
}

// JSON 校验 JSON 负载：大小、格式、嵌套层数、数组长度、对象属性数
func (v *Validator) JSON(field string, raw []byte) error {
	if err := v.JSONSize(field, raw); err != nil {
		return err
	}
	if !gjson.ValidBytes(raw) {
		return errors.ErrMalformedJSON.WithField(field)
	}
	return v.walk(field, gjson.ParseBytes(raw), 0)
}

// walk 递归检查结构，超过层数立即停止
func (v *Validator) walk(field string, node gjson.Result, depth int) error {
	if !node.IsObject() && !node.IsArray() {
		return nil
	}

	depth++
	if depth > v.cfg.MaxJSONDepth {
		return errors.ErrTooDeep.WithField(field).
			WithMessage(fmt.Sprintf("must nest at most %d levels", v.cfg.MaxJSONDepth))
	}

	limit, tooMany := v.cfg.MaxObjectProps, "too many properties"
	if node.IsArray() {
		limit, tooMany = v.cfg.MaxArrayLength, "too many array elements"
	}

	var (
		n   int
		err error
	)
	node.ForEach(func(_, value gjson.Result) bool {
		n++
		if n > limit {
			err = errors.ErrTooManyItems.WithField(field).WithMessage(tooMany)
			return false
		}
		if e := v.walk(field, value, depth); e != nil {
			err = e
			return false
		}
		return true
	})
	return err
}

// RoomID 校验房间 ID
func (v *Validator) RoomID(id string) error {
	const field = "room_id"
	if id == "" {
		return errors.ErrEmpty.WithField(field)
	}
	if len(id) > v.cfg.MaxRoomIDLength {
		return errors.ErrTooLong.WithField(field).
			WithMessage(fmt.Sprintf("must be at most %d characters", v.cfg.MaxRoomIDLength))
	}
	if !v.roomID.MatchString(id) {
		return errors.ErrBadCharset.WithField(field)
	}
	return nil
}

// Username 校验用户名
func (v *Validator) Username(name string) error {
	const field = "username"
	if name == "" {
		return errors.ErrEmpty.WithField(field)
	}
	if utf8.RuneCountInString(name) > v.cfg.MaxUsernameLength {
		return errors.ErrTooLong.WithField(field).
			WithMessage(fmt.Sprintf("must be at most %d characters", v.cfg.MaxUsernameLength))
	}
	if !v.username.MatchString(name) {
		return errors.ErrBadCharset.WithField(field)
	}
	return nil
}

// Roles 校验角色列表，角色名与房间 ID 规则相同
func (v *Validator) Roles(field string, roles []string) error {
	if len(roles) > v.cfg.MaxArrayLength {
		return errors.ErrTooManyItems.WithField(field)
	}
	for _, r := range roles {
		if r == "" || len(r) > v.cfg.MaxRoomIDLength || !v.roomID.MatchString(r) {
			return errors.ErrBadCharset.WithField(field)
		}
	}
	return nil
}

// Sanitize 去除文本中的全部标记，输出可安全嵌入 HTML
func (v *Validator) Sanitize(s string) string {
	return v.policy.Sanitize(s)
}
