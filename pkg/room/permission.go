package room

import (
	"fmt"

	"github.com/tokmz/huddle/pkg/errors"
)

// Permission 房间访问级别
type Permission string

const (
	Public     Permission = "public"     // 任何已认证用户
	Private    Permission = "private"    // 房主和受邀用户
	Restricted Permission = "restricted" // 持有允许角色之一的用户
	OwnerOnly  Permission = "owner_only" // 仅房主
)

// ParsePermission 解析访问级别
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case Public, Private, Restricted, OwnerOnly:
		return p, nil
	default:
		return "", errors.ErrInvalidInput.WithField("permission").
			WithMessage(fmt.Sprintf("unknown permission level %q", s))
	}
}

// NeedsOwner 该级别是否必须有房主
func (p Permission) NeedsOwner() bool {
	return p == Private || p == OwnerOnly
}
