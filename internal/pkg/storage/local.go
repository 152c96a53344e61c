package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/juju/ratelimit"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/thumb"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
)

// LocalAdapter 本机磁盘存储
type LocalAdapter struct {
	policy *models.Policy
	deps   Deps
}

var _ Adapter = (*LocalAdapter)(nil)

// NewLocalAdapter 创建本机存储适配器
func NewLocalAdapter(policy *models.Policy, deps Deps) *LocalAdapter {
	return &LocalAdapter{policy: policy, deps: deps}
}

func (a *LocalAdapter) abs(objName string) string {
	return filepath.Join(a.deps.Config.Local.BasePath, filepath.FromSlash(objName))
}

func (a *LocalAdapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	f, err := os.Open(a.abs(objName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local: %w", xerr.ErrFileNotFound)
		}
		return nil, fmt.Errorf("local: open object: %w", err)
	}
	return f, nil
}

func (a *LocalAdapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	dst := a.abs(objName)
	if err := os.MkdirAll(filepath.Dir(dst), 0744); err != nil {
		return fmt.Errorf("local: create directory: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("local: create object: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		return fmt.Errorf("local: write object: %w", err)
	}
	return nil
}

func (a *LocalAdapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	var failed []string
	for _, objName := range objNames {
		if err := os.Remove(a.abs(objName)); err != nil && !os.IsNotExist(err) {
			logger.Warn("本机存储删除对象失败", zap.String("obj", objName), zap.Error(err))
			failed = append(failed, objName)
			continue
		}
		// 一并清理缩略图缓存，缓存不存在不算失败
		_ = os.Remove(thumb.SidecarPath(a.abs(objName), a.deps.Config.Thumb.Suffix))
	}
	return failed, nil
}

// Source 本机策略返回待流式发送的本地路径，URL 由签名接口另行生成
func (a *LocalAdapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	abs := a.abs(req.ObjName)
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("local: %w", xerr.ErrFileNotFound)
	}
	return &Source{LocalPath: abs, Speed: req.Speed}, nil
}

// SignTemporaryURL 生成经站点签名的临时直链，指向本服务的文件流接口
// path、name、download 全部参与签名，流接口凭签名放行，无须再带登录态
func (a *LocalAdapter) SignTemporaryURL(sourcePath, displayName string, ttl time.Duration, isDownload bool) (string, error) {
	base := strings.TrimSuffix(a.deps.Config.Server.BaseURL, "/")
	uri := base + "/api/v1/file/content?path=" + url.QueryEscape(sourcePath) +
		"&name=" + url.QueryEscape(displayName)
	if isDownload {
		uri += "&download=1"
	}
	signed, err := auth.SignURI(a.deps.Auth, uri, ttl)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

// Thumb 命中 sidecar 缓存即返回，缺失时现场生成
func (a *LocalAdapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	if file.Dimensions() == nil {
		return nil, fmt.Errorf("local: not an image: %w", xerr.ErrPolicyUnsupported)
	}

	src := a.abs(file.SourceName)
	sidecar := thumb.SidecarPath(src, a.deps.Config.Thumb.Suffix)
	if _, err := os.Stat(sidecar); os.IsNotExist(err) {
		if err := thumb.GenerateToFile(src, sidecar, width, height); err != nil {
			return nil, fmt.Errorf("local: generate thumb: %w", err)
		}
	}
	return &Source{LocalPath: sidecar}, nil
}

func (a *LocalAdapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	return nil, fmt.Errorf("local: %w", xerr.ErrPolicyUnsupported)
}

// ServeContent 将本地文件写入 HTTP 响应。
// 支持 Range 续传；speed > 0 时按令牌桶限速；配置开启 send_file 时
// 只写代理头，由前置服务器发送文件。
func (a *LocalAdapter) ServeContent(w http.ResponseWriter, r *http.Request, src *Source, displayName string, isDownload bool) error {
	if isDownload {
		// 文件名按 RFC 5987 编码，兼容各浏览器
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
				url.PathEscape(displayName), url.PathEscape(displayName)))
	}

	if a.deps.Config.Local.SendFile {
		// 交给 Nginx/Apache 发送，路径相对于代理配置的根
		rel, err := filepath.Rel(a.deps.Config.Local.BasePath, src.LocalPath)
		if err != nil {
			return err
		}
		w.Header().Set(a.deps.Config.Local.SendFileHeader, "/internal/"+filepath.ToSlash(rel))
		w.WriteHeader(http.StatusOK)
		return nil
	}

	f, err := os.Open(src.LocalPath)
	if err != nil {
		return fmt.Errorf("local: open for streaming: %w", err)
	}
	defer f.Close()

	if src.Speed <= 0 {
		// 无限速时直接交给标准库，Range/If-Range 全部由它处理
		stat, err := f.Stat()
		if err != nil {
			return err
		}
		http.ServeContent(w, r, displayName, stat.ModTime(), f)
		return nil
	}

	return a.serveLimited(w, r, f, src.Speed)
}

// serveLimited 限速发送，支持单段 Range
// 限速读取器内部阻塞等待令牌，不持有任何锁
func (a *LocalAdapter) serveLimited(w http.ResponseWriter, r *http.Request, f *os.File, speed int64) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()

	start, length, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	if start != 0 || length != size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, size))
		w.WriteHeader(http.StatusPartialContent)
	}

	bucket := ratelimit.NewBucketWithRate(float64(speed), speed)
	limited := ratelimit.Reader(io.LimitReader(f, length), bucket)
	_, err = io.Copy(w, limited)
	return err
}

// parseRange 解析单段 Range 头，返回起点和长度
// 无 Range 头时返回整个文件
func parseRange(header string, size int64) (start, length int64, ok bool) {
	if header == "" {
		return 0, size, true
	}
	if !strings.HasPrefix(header, "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, "bytes=")
	// 多段请求退回整文件发送
	if strings.Contains(spec, ",") {
		return 0, size, true
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// 后缀形式 bytes=-N
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	if parts[1] == "" {
		return start, size - start, true
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end - start + 1, true
}
