package models

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// PicInfo 列的取值约定：空串表示未探测，"0,0" 表示非图片
const PicInfoNotImage = "0,0"

// File 对应 files 表，一条逻辑文件记录
// (user_id, dir, name) 唯一，物理位置由 PolicyID + SourceName 决定
type File struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64 `gorm:"not null;index;uniqueIndex:idx_user_dir_name" json:"user_id"`
	Dir        string `gorm:"type:varchar(768);not null;uniqueIndex:idx_user_dir_name" json:"dir"` // 逻辑目录，'/' 分隔
	Name       string `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_dir_name" json:"name"`
	SourceName string `gorm:"type:text;not null" json:"-"` // 后端对象键，可能按命名规则随机化
	Size       uint64 `gorm:"not null;default:0" json:"size"`
	PicInfo    string `gorm:"type:varchar(32);not null;default:''" json:"pic_info"` // "w,h" 或 "0,0"
	PolicyID   uint64 `gorm:"not null;index" json:"policy_id"`
	FolderID   uint64 `gorm:"not null;index" json:"folder_id"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联模型
	Policy *Policy `gorm:"foreignKey:PolicyID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (File) TableName() string {
	return "files"
}

// ImageDimensions 图片尺寸缓存的显式表示
type ImageDimensions struct {
	Width  int
	Height int
}

// String 编码回 PicInfo 列的 "w,h" 形式
func (d ImageDimensions) String() string {
	return fmt.Sprintf("%d,%d", d.Width, d.Height)
}

// Dimensions 解析 PicInfo 列。返回 nil 表示非图片或尚未探测。
func (f *File) Dimensions() *ImageDimensions {
	if f.PicInfo == "" || f.PicInfo == PicInfoNotImage {
		return nil
	}
	parts := strings.SplitN(f.PicInfo, ",", 2)
	if len(parts) != 2 {
		return nil
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return nil
	}
	return &ImageDimensions{Width: w, Height: h}
}

// LogicalPath 返回文件的完整逻辑路径
func (f *File) LogicalPath() string {
	return path.Join(f.Dir, f.Name)
}

// SplitPath 把逻辑路径拆成目录与名字，"/docs/a.txt" -> ("/docs", "a.txt")
func SplitPath(p string) (dir, name string) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "/", ""
	}
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}

// Ext 返回小写的文件扩展名，不含点号
func Ext(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	return strings.ToLower(ext)
}
