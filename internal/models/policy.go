package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// 存储策略类型
const (
	PolicyTypeLocal    = "local"
	PolicyTypeS3       = "s3"
	PolicyTypeOSS      = "oss"
	PolicyTypeQiniu    = "qiniu"
	PolicyTypeUpyun    = "upyun"
	PolicyTypeRemote   = "remote"
	PolicyTypeOneDrive = "onedrive"
)

// Policy 对应 policies 表，描述一个存储后端实例及其约束
// Type 创建后不可变，每种类型只对应一个适配器实现
type Policy struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"type:varchar(255);not null" json:"name"`
	Type       string `gorm:"type:varchar(32);not null" json:"type"`
	Server     string `gorm:"type:varchar(255)" json:"server"`      // Endpoint 或远程节点地址
	BucketName string `gorm:"type:varchar(64)" json:"bucket_name"`  // 桶/容器名
	IsPrivate  bool   `gorm:"not null;default:0" json:"is_private"` // 私有桶需要签名访问
	BaseURL    string `gorm:"type:varchar(255)" json:"base_url"`    // 外链基础地址
	AccessKey  string `gorm:"type:text" json:"-"`
	SecretKey  string `gorm:"type:text" json:"-"`
	MaxSize    uint64 `gorm:"not null;default:0" json:"max_size"` // 0 表示不限制
	AutoRename bool   `gorm:"not null;default:0" json:"auto_rename"`
	DirRule    string `gorm:"type:varchar(255)" json:"dir_rule"`  // 物理目录命名规则模板
	FileRule   string `gorm:"type:varchar(255)" json:"file_rule"` // 物理文件命名规则模板
	Options    string `gorm:"type:text" json:"-"`                 // JSON 编码的附加选项

	// 周期刷新的后端认证状态，由 token 刷新任务写入，请求侧每次读最新行
	AccessToken    string     `gorm:"type:text" json:"-"`
	RefreshToken   string     `gorm:"type:text" json:"-"`
	TokenExpiresAt *time.Time `gorm:"default:null" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 数据库忽略字段
	OptionsSerialized PolicyOption `gorm:"-" json:"options"`
}

// PolicyOption 序列化在 Options 列中的附加策略属性
type PolicyOption struct {
	// FileType 允许的扩展名列表，空列表表示不限制
	FileType []string `json:"file_type"`
	// MimeType 上传凭证中携带的 MimeType 限制（七牛）
	MimeType string `json:"mimetype,omitempty"`
	// Token 又拍云操作 Token
	Token string `json:"token,omitempty"`
	// OdRedirect OneDrive OAuth 重定向地址
	OdRedirect string `json:"od_redirect,omitempty"`
	// ChunkSize 会话上传的分片大小
	ChunkSize uint64 `json:"chunk_size,omitempty"`
}

// TableName 指定 GORM 使用的表名
func (Policy) TableName() string {
	return "policies"
}

// AfterFind 查询后解析 Options 列
func (p *Policy) AfterFind(tx *gorm.DB) error {
	return p.DecodeOptions()
}

// BeforeSave 保存前序列化 Options 列
func (p *Policy) BeforeSave(tx *gorm.DB) error {
	optionsValue, err := json.Marshal(&p.OptionsSerialized)
	if err != nil {
		return err
	}
	p.Options = string(optionsValue)
	return nil
}

// DecodeOptions 将 Options 列解析到 OptionsSerialized
func (p *Policy) DecodeOptions() error {
	if p.Options == "" {
		p.OptionsSerialized = PolicyOption{FileType: []string{}}
		return nil
	}
	if err := json.Unmarshal([]byte(p.Options), &p.OptionsSerialized); err != nil {
		return err
	}
	if p.OptionsSerialized.FileType == nil {
		p.OptionsSerialized.FileType = []string{}
	}
	return nil
}

// IsExtensionAllowed 检查扩展名是否在允许列表内，空列表放行所有类型
func (p *Policy) IsExtensionAllowed(name string) bool {
	if len(p.OptionsSerialized.FileType) == 0 {
		return true
	}
	ext := Ext(name)
	for _, allowed := range p.OptionsSerialized.FileType {
		if ext == allowed {
			return true
		}
	}
	return false
}

// IsSizeAllowed 检查文件大小是否在策略限制内
func (p *Policy) IsSizeAllowed(size uint64) bool {
	return p.MaxSize == 0 || size <= p.MaxSize
}

// IsDirectlyUploaded 返回该策略的字节流是否由客户端直传后端、再回调本服务器
func (p *Policy) IsDirectlyUploaded() bool {
	switch p.Type {
	case PolicyTypeQiniu, PolicyTypeUpyun, PolicyTypeOSS:
		return true
	default:
		return false
	}
}

// IsSessionBased 返回该策略是否需要多轮会话协商，由异步任务执行真正的上传
func (p *Policy) IsSessionBased() bool {
	return p.Type == PolicyTypeOneDrive
}

// IsThumbNative 返回该策略是否支持后端原生的图片缩放参数
func (p *Policy) IsThumbNative() bool {
	switch p.Type {
	case PolicyTypeQiniu, PolicyTypeOSS, PolicyTypeUpyun:
		return true
	default:
		return false
	}
}
