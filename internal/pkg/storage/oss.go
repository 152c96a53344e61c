package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
)

// OSSAdapter 阿里云 OSS 兼容对象存储
type OSSAdapter struct {
	client *oss.Client
	policy *models.Policy
	deps   Deps
}

var _ Adapter = (*OSSAdapter)(nil)

// NewOSSAdapter 创建 OSS 存储适配器
func NewOSSAdapter(policy *models.Policy, deps Deps) (*OSSAdapter, error) {
	client, err := oss.New(policy.Server, policy.AccessKey, policy.SecretKey)
	if err != nil {
		logger.Error("初始化OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("oss: init client: %w", err)
	}
	return &OSSAdapter{client: client, policy: policy, deps: deps}, nil
}

func (a *OSSAdapter) bucket() (*oss.Bucket, error) {
	bucket, err := a.client.Bucket(a.policy.BucketName)
	if err != nil {
		return nil, fmt.Errorf("oss: get bucket: %w", xerr.ErrBackendUnavailable)
	}
	return bucket, nil
}

func (a *OSSAdapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	bucket, err := a.bucket()
	if err != nil {
		return nil, err
	}
	reader, err := bucket.GetObject(objName)
	if err != nil {
		if ossErr, ok := err.(oss.ServiceError); ok && ossErr.StatusCode == 404 {
			return nil, fmt.Errorf("oss: %w", xerr.ErrFileNotFound)
		}
		return nil, fmt.Errorf("oss: get object: %w", xerr.ErrBackendUnavailable)
	}
	return reader, nil
}

func (a *OSSAdapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	bucket, err := a.bucket()
	if err != nil {
		return err
	}
	if err := bucket.PutObject(objName, file); err != nil {
		logger.Error("OSS上传对象失败", zap.String("obj", objName), zap.Error(err))
		return fmt.Errorf("oss: put object: %w", xerr.ErrBackendUnavailable)
	}
	return nil
}

// Delete OSS 支持批量删除接口，一次请求删除整批
func (a *OSSAdapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	bucket, err := a.bucket()
	if err != nil {
		return objNames, err
	}

	result, err := bucket.DeleteObjects(objNames, oss.DeleteObjectsQuiet(true))
	if err != nil {
		logger.Warn("OSS批量删除失败", zap.Int("count", len(objNames)), zap.Error(err))
		return objNames, nil
	}
	// quiet 模式下返回的是删除失败的对象
	return result.DeletedObjects, nil
}

func (a *OSSAdapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	var options []oss.Option
	if req.IsDownload {
		options = append(options, oss.ResponseContentDisposition(
			fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(req.DisplayName))))
	}

	if !a.policy.IsPrivate && !req.IsDownload {
		base := strings.TrimSuffix(a.policy.BaseURL, "/")
		return &Source{URL: fmt.Sprintf("%s/%s", base, req.ObjName)}, nil
	}

	bucket, err := a.bucket()
	if err != nil {
		return nil, err
	}
	signedURL, err := bucket.SignURL(req.ObjName, oss.HTTPGet, int64(req.TTL.Seconds()), options...)
	if err != nil {
		return nil, fmt.Errorf("oss: sign url: %w", xerr.ErrBackendUnavailable)
	}
	return &Source{URL: signedURL}, nil
}

// Thumb 使用 OSS 原生图片处理参数，无需本地生成
func (a *OSSAdapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	process := fmt.Sprintf("image/resize,m_fill,w_%d,h_%d", width, height)

	if !a.policy.IsPrivate {
		base := strings.TrimSuffix(a.policy.BaseURL, "/")
		return &Source{URL: fmt.Sprintf("%s/%s?x-oss-process=%s", base, file.SourceName, url.QueryEscape(process))}, nil
	}

	bucket, err := a.bucket()
	if err != nil {
		return nil, err
	}
	signedURL, err := bucket.SignURL(file.SourceName, oss.HTTPGet,
		int64(a.deps.Config.Sign.Timeout.Seconds()), oss.Process(process))
	if err != nil {
		return nil, fmt.Errorf("oss: sign thumb url: %w", xerr.ErrBackendUnavailable)
	}
	return &Source{URL: signedURL}, nil
}

// ossPostPolicy OSS 表单直传策略
type ossPostPolicy struct {
	Expiration string  `json:"expiration"`
	Conditions [][]any `json:"conditions"`
}

// Token 签发 OSS 表单直传凭证，回调地址带站点签名，回调处理时校验
func (a *OSSAdapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	expires := time.Now().Add(a.deps.Config.Upload.TicketExpiresIn).UTC()
	policy := ossPostPolicy{
		Expiration: expires.Format("2006-01-02T15:04:05Z"),
		Conditions: [][]any{
			{"eq", "$bucket", a.policy.BucketName},
			{"eq", "$key", objName},
		},
	}
	if a.policy.MaxSize > 0 {
		policy.Conditions = append(policy.Conditions, []any{"content-length-range", 0, a.policy.MaxSize})
	}

	raw, err := json.Marshal(policy)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	// OSS 表单签名使用 HMAC-SHA1
	h := hmac.New(sha1.New, []byte(a.policy.SecretKey))
	h.Write([]byte(encoded))
	signature := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return &models.UploadCredentialResponse{
		Token:     signature,
		Policy:    encoded,
		UploadURL: a.policy.Server,
		Key:       objName,
		TicketKey: ticket.Key,
	}, nil
}

// Meta 向 OSS 核实对象存在并取其大小
func (a *OSSAdapter) Meta(ctx context.Context, objName string) (uint64, error) {
	bucket, err := a.bucket()
	if err != nil {
		return 0, err
	}
	header, err := bucket.GetObjectMeta(objName)
	if err != nil {
		var svcErr oss.ServiceError
		if errors.As(err, &svcErr) && svcErr.StatusCode == 404 {
			return 0, fmt.Errorf("oss: %w", xerr.ErrFileNotFound)
		}
		return 0, fmt.Errorf("oss: get object meta: %w", xerr.ErrBackendUnavailable)
	}
	size, err := strconv.ParseUint(header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("oss: parse content length: %w", xerr.ErrBackendUnavailable)
	}
	return size, nil
}
