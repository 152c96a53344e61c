package models

import (
	"time"

	"gorm.io/gorm"
)

// Chunk 对应 chunks 表，断点续传中单个分片的持久化记录
// 分片到达时即按大小预占配额，废弃的分片由周期清理归还
// (user_id, ctx, index) 唯一，重传同一分片走替换而不是插入
type Chunk struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID  uint64 `gorm:"not null;uniqueIndex:idx_chunk_session" json:"user_id"`
	Ctx     string `gorm:"type:varchar(64);not null;uniqueIndex:idx_chunk_session;index:idx_chunk_ctx" json:"ctx"` // 上传会话令牌
	ObjName string `gorm:"type:varchar(255);not null" json:"obj_name"`                                             // 后端临时对象名
	Index   int    `gorm:"not null;uniqueIndex:idx_chunk_session" json:"index"`                                    // 分片序号
	Total   int    `gorm:"not null" json:"total"`                                                                  // 分片总数
	Size    uint64 `gorm:"not null" json:"size"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (Chunk) TableName() string {
	return "chunks"
}

// CallbackTicket 对应 callback_tickets 表，入站回调的一次性授权
// 回调处理或周期清理会消费并删除凭证
type CallbackTicket struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Key      string `gorm:"column:ticket_key;type:varchar(64);unique;not null" json:"key"` // 随机凭证键
	PolicyID uint64 `gorm:"not null" json:"policy_id"`
	UserID   uint64 `gorm:"not null;index" json:"user_id"`
	Dir      string `gorm:"type:varchar(768);not null" json:"dir"`  // 目标逻辑目录
	Name     string `gorm:"type:varchar(255);not null" json:"name"` // 预定的逻辑文件名
	ObjName  string `gorm:"type:text;not null" json:"obj_name"`     // 预定的后端对象键

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 指定 GORM 使用的表名
func (CallbackTicket) TableName() string {
	return "callback_tickets"
}
