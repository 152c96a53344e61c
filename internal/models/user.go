package models

import (
	"time"

	"gorm.io/gorm"
)

// User 对应 users 表
// Storage 是已用空间的持久化计数器，只能通过原子增减修改
type User struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email   string `gorm:"type:varchar(255);unique;not null" json:"email"`
	Nick    string `gorm:"type:varchar(64);not null" json:"nick"`
	GroupID uint64 `gorm:"not null;index" json:"group_id"`
	Storage uint64 `gorm:"not null;default:0" json:"storage"` // 已用空间（字节）
	Status  uint8  `gorm:"type:tinyint unsigned;not null;default:1" json:"status"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联模型
	Group *Group `gorm:"foreignKey:GroupID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (User) TableName() string {
	return "users"
}

// Group 对应 groups 表，用户组决定基础配额、可用策略和限速
type Group struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"type:varchar(64);not null" json:"name"`
	PolicyID   uint64 `gorm:"not null" json:"policy_id"`             // 组内上传使用的存储策略
	MaxStorage uint64 `gorm:"not null;default:0" json:"max_storage"` // 基础配额（字节）
	// SpeedLimit 本机下载限速，字节/秒，0 表示不限速
	SpeedLimit int64 `gorm:"not null;default:0" json:"speed_limit"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定 GORM 使用的表名
func (Group) TableName() string {
	return "groups"
}

// StoragePack 对应 storage_packs 表，附加容量包
// 只有未到期的容量包计入总配额
type StoragePack struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64     `gorm:"not null;index" json:"user_id"`
	Name      string     `gorm:"type:varchar(64);not null" json:"name"`
	Size      uint64     `gorm:"not null" json:"size"` // 容量（字节）
	ExpiredAt *time.Time `gorm:"default:null;index" json:"expired_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定 GORM 使用的表名
func (StoragePack) TableName() string {
	return "storage_packs"
}

// IsActive 返回容量包当前是否生效
func (p *StoragePack) IsActive(now time.Time) bool {
	return p.ExpiredAt == nil || p.ExpiredAt.After(now)
}
