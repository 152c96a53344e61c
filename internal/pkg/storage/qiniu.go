package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/qiniu/go-sdk/v7/auth"
	qiniustorage "github.com/qiniu/go-sdk/v7/storage"
	"go.uber.org/zap"
)

// QiniuAdapter 七牛云存储
// 上传走客户端直传 + 回调模式，服务端只签发凭证和处理回调
type QiniuAdapter struct {
	mac    *auth.Credentials
	policy *models.Policy
	deps   Deps
}

var _ Adapter = (*QiniuAdapter)(nil)

// NewQiniuAdapter 创建七牛存储适配器
func NewQiniuAdapter(policy *models.Policy, deps Deps) *QiniuAdapter {
	return &QiniuAdapter{
		mac:    auth.New(policy.AccessKey, policy.SecretKey),
		policy: policy,
		deps:   deps,
	}
}

// Get 七牛没有服务端读接口，经私有下载链接取回内容
func (a *QiniuAdapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	src, err := a.Source(ctx, &SourceRequest{ObjName: objName, TTL: time.Minute})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qiniu: fetch object: %w", xerr.ErrBackendUnavailable)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("qiniu: %w", xerr.ErrFileNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("qiniu: fetch object status %d: %w", resp.StatusCode, xerr.ErrBackendUnavailable)
	}
	return resp.Body, nil
}

// Put 服务端覆盖写，上传凭证的 scope 指定到对象以允许覆盖
func (a *QiniuAdapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	putPolicy := qiniustorage.PutPolicy{
		Scope: fmt.Sprintf("%s:%s", a.policy.BucketName, objName),
	}
	token := putPolicy.UploadToken(a.mac)

	uploader := qiniustorage.NewFormUploader(&qiniustorage.Config{UseHTTPS: true})
	ret := qiniustorage.PutRet{}
	err := uploader.Put(ctx, &ret, token, objName, file, size, &qiniustorage.PutExtra{})
	if err != nil {
		logger.Error("七牛上传对象失败", zap.String("obj", objName), zap.Error(err))
		return fmt.Errorf("qiniu: put object: %w", xerr.ErrBackendUnavailable)
	}
	return nil
}

// Delete 七牛支持批量操作接口
func (a *QiniuAdapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	manager := qiniustorage.NewBucketManager(a.mac, &qiniustorage.Config{})

	ops := make([]string, 0, len(objNames))
	for _, objName := range objNames {
		ops = append(ops, qiniustorage.URIDelete(a.policy.BucketName, objName))
	}

	rets, err := manager.Batch(ops)
	if err != nil && len(rets) == 0 {
		logger.Warn("七牛批量删除请求失败", zap.Error(err))
		return objNames, nil
	}

	var failed []string
	for i, ret := range rets {
		// 612 表示对象不存在，视作删除成功
		if ret.Code != 200 && ret.Code != 612 {
			failed = append(failed, objNames[i])
		}
	}
	return failed, nil
}

func (a *QiniuAdapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	base := strings.TrimSuffix(a.policy.BaseURL, "/")

	key := req.ObjName
	if req.IsDownload {
		key += "?attname=" + url.QueryEscape(req.DisplayName)
	}

	if !a.policy.IsPrivate {
		return &Source{URL: fmt.Sprintf("%s/%s", base, key)}, nil
	}

	deadline := time.Now().Add(req.TTL).Unix()
	privateURL := qiniustorage.MakePrivateURL(a.mac, base, key, deadline)
	return &Source{URL: privateURL}, nil
}

// Thumb imageView2 模式 1：缩放铺满再居中裁剪，与本地生成语义一致
func (a *QiniuAdapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	base := strings.TrimSuffix(a.policy.BaseURL, "/")
	key := fmt.Sprintf("%s?imageView2/1/w/%d/h/%d", file.SourceName, width, height)

	if !a.policy.IsPrivate {
		return &Source{URL: fmt.Sprintf("%s/%s", base, key)}, nil
	}
	deadline := time.Now().Add(a.deps.Config.Sign.Timeout).Unix()
	return &Source{URL: qiniustorage.MakePrivateURL(a.mac, base, key, deadline)}, nil
}

// Token 签发带回调策略的上传凭证，回调体由七牛按魔法变量填充
func (a *QiniuAdapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	callbackURL := fmt.Sprintf("%s/api/v1/callback/qiniu/%s",
		strings.TrimSuffix(a.deps.Config.Server.BaseURL, "/"), ticket.Key)

	putPolicy := qiniustorage.PutPolicy{
		Scope:            fmt.Sprintf("%s:%s", a.policy.BucketName, objName),
		CallbackURL:      callbackURL,
		CallbackBody:     `{"name":"$(fname)","source_name":"$(key)","size":$(fsize),"pic_info":"$(imageInfo.width),$(imageInfo.height)"}`,
		CallbackBodyType: "application/json",
		FsizeLimit:       int64(a.policy.MaxSize),
		MimeLimit:        a.policy.OptionsSerialized.MimeType,
	}
	putPolicy.Expires = uint64(a.deps.Config.Upload.TicketExpiresIn.Seconds())

	return &models.UploadCredentialResponse{
		Token:     putPolicy.UploadToken(a.mac),
		UploadURL: a.policy.Server,
		Key:       objName,
		TicketKey: ticket.Key,
	}, nil
}

// VerifyCallback 校验七牛回调请求的 QBox/Qiniu 鉴权头
func (a *QiniuAdapter) VerifyCallback(req *http.Request) error {
	ok, err := a.mac.VerifyCallback(req)
	if err != nil || !ok {
		return xerr.ErrUntrusted
	}
	return nil
}
