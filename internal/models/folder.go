package models

import (
	"path"
	"time"

	"gorm.io/gorm"
)

// Folder 对应 folders 表，逻辑目录节点
// 不变量：PositionAbsolute = Position + "/" + Name，根目录为 "/"
// (owner_id, position_absolute) 唯一
type Folder struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID          uint64 `gorm:"not null;index;uniqueIndex:idx_owner_position" json:"owner_id"`
	Name             string `gorm:"type:varchar(255);not null" json:"name"`
	ParentID         uint64 `gorm:"not null;default:0;index" json:"parent_id"`  // 根目录为 0
	Position         string `gorm:"type:varchar(768);not null" json:"position"` // 父目录的绝对路径
	PositionAbsolute string `gorm:"type:varchar(768);not null;uniqueIndex:idx_owner_position" json:"position_absolute"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (Folder) TableName() string {
	return "folders"
}

// IsRoot 返回是否是根目录
func (f *Folder) IsRoot() bool {
	return f.PositionAbsolute == "/"
}

// JoinPath 拼接逻辑路径，保证以 "/" 开头且无重复分隔符
func JoinPath(elem ...string) string {
	joined := path.Join(elem...)
	if joined == "" || joined == "." {
		return "/"
	}
	if joined[0] != '/' {
		joined = "/" + joined
	}
	return joined
}
