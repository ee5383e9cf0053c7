// Package invite 私有房间的邀请名单
package invite

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/logger"
)

// Invite 邀请记录
type Invite struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"size:64;not null;uniqueIndex:idx_room_user"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:idx_room_user"`
	InvitedBy string    `gorm:"size:128"`
	CreatedAt time.Time
}

// TableName 表名
func (Invite) TableName() string {
	return "room_invites"
}

// Repository 基于数据库的邀请名单
type Repository struct {
	db  *gorm.DB
	log logger.Logger
}

// NewRepository 创建仓库
func NewRepository(db *gorm.DB, log logger.Logger) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	return &Repository{db: db, log: log.Named("invite")}
}

// Migrate 同步表结构
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Invite{})
}

// Add 邀请用户，重复邀请不报错
func (r *Repository) Add(ctx context.Context, roomID, userID, invitedBy string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Invite{RoomID: roomID, UserID: userID, InvitedBy: invitedBy}).Error
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	r.log.InfoContext(ctx, "user invited",
		zap.String("room_id", roomID), zap.String("user_id", userID), zap.String("invited_by", invitedBy))
	return nil
}

// Remove 撤销邀请
func (r *Repository) Remove(ctx context.Context, roomID, userID string) error {
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&Invite{}).Error
	if err != nil {
		return errors.ErrInternal.WithError(err)
	}
	return nil
}

// RemoveRoom 删除房间的全部邀请
func (r *Repository) RemoveRoom(ctx context.Context, roomID string) error {
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&Invite{}).Error; err != nil {
		return errors.ErrInternal.WithError(err)
	}
	return nil
}

// IsInvited 用户是否受邀
func (r *Repository) IsInvited(ctx context.Context, roomID, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Invite{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&n).Error
	if err != nil {
		return false, errors.ErrInternal.WithError(err)
	}
	return n > 0, nil
}

// List 房间的受邀用户
func (r *Repository) List(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Invite{}).
		Where("room_id = ?", roomID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, errors.ErrInternal.WithError(err)
	}
	return ids, nil
}
