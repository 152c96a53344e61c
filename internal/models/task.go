package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// 异步上传任务状态
const (
	TaskStatusTodo    = "todo"
	TaskStatusSuccess = "success"
	TaskStatusError   = "error"
)

// 异步上传任务类型
const (
	TaskTypeSingle  = "single"  // 单对象直传
	TaskTypeChunked = "chunked" // 分片合并后上传
	TaskTypeSession = "session" // 后端会话协商上传（OneDrive）
)

// UploadTask 对应 upload_tasks 表，后端多步上传的持久化任务记录
// 终态后不再被修改，仅供运维查看
type UploadTask struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name    string `gorm:"type:varchar(255);not null" json:"name"`
	Type    string `gorm:"type:varchar(16);not null" json:"type"`
	Content string `gorm:"type:text;not null" json:"-"` // JSON 编码的任务载荷
	Status  string `gorm:"type:varchar(16);not null;default:'todo';index" json:"status"`
	UserID  uint64 `gorm:"not null;index" json:"user_id"`
	ErrMsg  string `gorm:"type:text" json:"err_msg"`
	Retries int    `gorm:"not null;default:0" json:"retries"`

	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (UploadTask) TableName() string {
	return "upload_tasks"
}

// UploadTaskContent 是 Content 列的载荷结构
type UploadTaskContent struct {
	PolicyID uint64 `json:"policy_id"`
	Dir      string `json:"dir"`       // 目标逻辑目录
	Name     string `json:"name"`      // 展示名
	ObjName  string `json:"obj_name"`  // 后端对象键
	TempPath string `json:"temp_path"` // 本地暂存文件，会话上传的源
	Size     uint64 `json:"size"`
	PicInfo  string `json:"pic_info"`
	// ChunkCtx 分片会话令牌，type=chunked 时有效
	ChunkCtx string `json:"chunk_ctx,omitempty"`
}

// DecodeContent 解析任务载荷
func (t *UploadTask) DecodeContent() (*UploadTaskContent, error) {
	var content UploadTaskContent
	if err := json.Unmarshal([]byte(t.Content), &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// EncodeContent 序列化任务载荷
func (t *UploadTask) EncodeContent(content *UploadTaskContent) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	t.Content = string(raw)
	return nil
}
