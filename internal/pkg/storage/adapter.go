package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/cache"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
)

// SourceRequest 描述一次预览/下载链接请求
type SourceRequest struct {
	ObjName     string
	DisplayName string        // 下载时作为 attachment 文件名
	IsDownload  bool          // true 强制附件下载
	TTL         time.Duration // 签名链接有效期
	Speed       int64         // 限速，字节/秒，仅本机策略生效
}

// Source 是预览/下载能力的统一表示：
// 公开后端返回直链，私有后端返回签名链接，本机策略返回待流式发送的本地路径
type Source struct {
	URL       string
	LocalPath string // 非空时由调用方负责流式发送
	Speed     int64
}

// Adapter 定义了所有存储后端统一的操作接口
type Adapter interface {
	// Get 读取对象内容，用于在线编辑，调用方须先检查大小上限
	Get(ctx context.Context, objName string) (io.ReadCloser, error)

	// Put 写入对象内容，覆盖旧内容；配额增减由调用方负责
	Put(ctx context.Context, objName string, file io.Reader, size int64) error

	// Delete 批量删除对象，尽力而为，返回未能删除的对象列表
	Delete(ctx context.Context, objNames []string) ([]string, error)

	// Source 生成预览/下载链接或本地流描述
	Source(ctx context.Context, req *SourceRequest) (*Source, error)

	// Thumb 返回缩略图，支持原生缩放参数的后端构造参数化 URL，
	// 否则在本地生成并缓存
	Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error)

	// Token 为客户端直传后端签发上传凭证，不支持直传的后端返回 ErrPolicyUnsupported
	Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error)
}

// SessionUploader 由支持后端原生分片会话的适配器实现
// 分片必须按序提交，total 为对象总大小
type SessionUploader interface {
	InitSession(ctx context.Context, objName string, total int64) (string, error)
	UploadPart(ctx context.Context, objName, sessionID string, index int, part io.Reader, size int64) error
	CompleteSession(ctx context.Context, objName, sessionID string) error
	AbortSession(ctx context.Context, objName, sessionID string)
}

// MetaProvider 由能低成本读取对象元数据的适配器实现
// 客户端自报完成的回调用它向后端核实对象确实存在及其大小
type MetaProvider interface {
	Meta(ctx context.Context, objName string) (size uint64, err error)
}

// Deps 适配器的公共依赖
type Deps struct {
	Config *config.Config
	Cache  cache.Cache
	Auth   auth.Auth    // 站点级签名器，本机/远程策略签 URL 用
	Client *http.Client // 远程节点与 OneDrive 的 HTTP 客户端
}

// NewAdapter 按策略类型构造适配器，整个系统只在这里做类型分发
func NewAdapter(policy *models.Policy, deps Deps) (Adapter, error) {
	if deps.Client == nil {
		deps.Client = &http.Client{Timeout: 60 * time.Second}
	}

	switch policy.Type {
	case models.PolicyTypeLocal:
		return NewLocalAdapter(policy, deps), nil
	case models.PolicyTypeS3:
		return NewS3Adapter(policy, deps)
	case models.PolicyTypeOSS:
		return NewOSSAdapter(policy, deps)
	case models.PolicyTypeQiniu:
		return NewQiniuAdapter(policy, deps), nil
	case models.PolicyTypeUpyun:
		return NewUpyunAdapter(policy, deps), nil
	case models.PolicyTypeRemote:
		return NewRemoteAdapter(policy, deps), nil
	case models.PolicyTypeOneDrive:
		return NewOneDriveAdapter(policy, deps), nil
	default:
		return nil, fmt.Errorf("storage: unknown policy type %q: %w", policy.Type, xerr.ErrPolicyNotFound)
	}
}
