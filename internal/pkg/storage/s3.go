package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Adapter S3 兼容对象存储（MinIO / AWS S3）
type S3Adapter struct {
	client *minio.Client
	core   *minio.Core
	policy *models.Policy
	deps   Deps
}

var (
	_ Adapter         = (*S3Adapter)(nil)
	_ SessionUploader = (*S3Adapter)(nil)
)

// NewS3Adapter 创建 S3 兼容存储适配器
func NewS3Adapter(policy *models.Policy, deps Deps) (*S3Adapter, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(policy.Server, "https://"), "http://")
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(policy.AccessKey, policy.SecretKey, ""),
		Secure: strings.HasPrefix(policy.Server, "https://"),
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		logger.Error("初始化 S3 客户端失败", zap.Error(err))
		return nil, fmt.Errorf("s3: init client: %w", err)
	}

	core, err := minio.NewCore(endpoint, opts)
	if err != nil {
		logger.Error("初始化 S3 Core 失败", zap.Error(err))
		return nil, fmt.Errorf("s3: init core: %w", err)
	}

	return &S3Adapter{client: client, core: core, policy: policy, deps: deps}, nil
}

func (a *S3Adapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	obj, err := a.client.GetObject(ctx, a.policy.BucketName, objName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3: get object: %w", xerr.ErrBackendUnavailable)
	}
	// GetObject 是惰性的，Stat 一次确认对象存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("s3: %w", xerr.ErrFileNotFound)
		}
		return nil, fmt.Errorf("s3: stat object: %w", xerr.ErrBackendUnavailable)
	}
	return obj, nil
}

func (a *S3Adapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	_, err := a.client.PutObject(ctx, a.policy.BucketName, objName, file, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		logger.Error("S3 上传对象失败", zap.String("obj", objName), zap.Error(err))
		return fmt.Errorf("s3: put object: %w", xerr.ErrBackendUnavailable)
	}
	return nil
}

func (a *S3Adapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	var failed []string
	for _, objName := range objNames {
		err := a.client.RemoveObject(ctx, a.policy.BucketName, objName, minio.RemoveObjectOptions{})
		if err != nil {
			logger.Warn("S3 删除对象失败", zap.String("obj", objName), zap.Error(err))
			failed = append(failed, objName)
		}
	}
	return failed, nil
}

func (a *S3Adapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	if !a.policy.IsPrivate && !req.IsDownload {
		// 公开桶直接拼外链
		base := strings.TrimSuffix(a.policy.BaseURL, "/")
		return &Source{URL: fmt.Sprintf("%s/%s", base, req.ObjName)}, nil
	}

	params := url.Values{}
	if req.IsDownload {
		params.Set("response-content-disposition",
			fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(req.DisplayName)))
	}
	presigned, err := a.client.PresignedGetObject(ctx, a.policy.BucketName, req.ObjName, req.TTL, params)
	if err != nil {
		return nil, fmt.Errorf("s3: presign url: %w", xerr.ErrBackendUnavailable)
	}
	return &Source{URL: presigned.String()}, nil
}

// Thumb S3 协议没有原生缩放参数，交由上层回退处理
func (a *S3Adapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	return nil, fmt.Errorf("s3: %w", xerr.ErrPolicyUnsupported)
}

func (a *S3Adapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	return nil, fmt.Errorf("s3: %w", xerr.ErrPolicyUnsupported)
}

// --- 后端原生分片会话 ---

func (a *S3Adapter) partKey(sessionID string) string {
	return fmt.Sprintf("s3:session:%s:parts", sessionID)
}

func (a *S3Adapter) InitSession(ctx context.Context, objName string, total int64) (string, error) {
	sessionID, err := a.core.NewMultipartUpload(ctx, a.policy.BucketName, objName, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("s3: init multipart session: %w", xerr.ErrBackendUnavailable)
	}
	return sessionID, nil
}

func (a *S3Adapter) UploadPart(ctx context.Context, objName, sessionID string, index int, part io.Reader, size int64) error {
	// S3 分片序号从 1 开始
	info, err := a.core.PutObjectPart(ctx, a.policy.BucketName, objName, sessionID, index+1, part, size, minio.PutObjectPartOptions{})
	if err != nil {
		return fmt.Errorf("s3: upload part %d: %w", index, xerr.ErrBackendUnavailable)
	}

	// 分片 ETag 记入缓存，完成会话时取回
	if err := a.deps.Cache.HSet(ctx, a.partKey(sessionID), strconv.Itoa(info.PartNumber), info.ETag); err != nil {
		return fmt.Errorf("s3: save part etag: %w", err)
	}
	return nil
}

func (a *S3Adapter) CompleteSession(ctx context.Context, objName, sessionID string) error {
	etags, err := a.deps.Cache.HGetAll(ctx, a.partKey(sessionID))
	if err != nil {
		return fmt.Errorf("s3: load part etags: %w", err)
	}

	parts := make([]minio.CompletePart, 0, len(etags))
	for numStr, etag := range etags {
		num, convErr := strconv.Atoi(numStr)
		if convErr != nil {
			continue
		}
		parts = append(parts, minio.CompletePart{PartNumber: num, ETag: etag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	if _, err := a.core.CompleteMultipartUpload(ctx, a.policy.BucketName, objName, sessionID, parts, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("s3: complete multipart session: %w", xerr.ErrBackendUnavailable)
	}

	_ = a.deps.Cache.Del(ctx, a.partKey(sessionID))
	return nil
}

func (a *S3Adapter) AbortSession(ctx context.Context, objName, sessionID string) {
	if err := a.core.AbortMultipartUpload(ctx, a.policy.BucketName, objName, sessionID); err != nil {
		logger.Warn("S3 中止分片会话失败", zap.String("session", sessionID), zap.Error(err))
	}
	_ = a.deps.Cache.Del(ctx, a.partKey(sessionID))
}
