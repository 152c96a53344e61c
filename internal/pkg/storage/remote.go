package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
)

// RemoteAdapter 从机存储：通过 HMAC 签名的 HTTP 请求操作远端节点
type RemoteAdapter struct {
	policy *models.Policy
	auth   auth.Auth
	deps   Deps
}

var _ Adapter = (*RemoteAdapter)(nil)

// NewRemoteAdapter 创建从机存储适配器，签名密钥取策略 SecretKey
func NewRemoteAdapter(policy *models.Policy, deps Deps) *RemoteAdapter {
	return &RemoteAdapter{
		policy: policy,
		auth:   auth.New(policy.SecretKey),
		deps:   deps,
	}
}

func (a *RemoteAdapter) endpoint(path string) string {
	return strings.TrimSuffix(a.policy.Server, "/") + path
}

// signedRequest 构造带签名头的请求，签名覆盖方法、路径与请求体
func (a *RemoteAdapter) signedRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(path), reader)
	if err != nil {
		return nil, err
	}
	sign := auth.SignRequestBody(a.auth, method, path, body, a.deps.Config.Sign.Timeout)
	req.Header.Set("Authorization", "Bearer "+sign)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (a *RemoteAdapter) do(req *http.Request) (*http.Response, error) {
	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w", req.Method, req.URL.Path, xerr.ErrBackendUnavailable)
	}
	return resp, nil
}

func (a *RemoteAdapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	path := "/api/v1/slave/content/" + url.PathEscape(objName)
	req, err := a.signedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("remote: %w", xerr.ErrFileNotFound)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("remote: status %d: %w", resp.StatusCode, xerr.ErrBackendUnavailable)
	}
}

func (a *RemoteAdapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	path := "/api/v1/slave/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(path), file)
	if err != nil {
		return err
	}
	req.ContentLength = size
	// 流式上传不纳入签名，仅签方法、路径与对象名头
	sign := auth.SignRequestBody(a.auth, http.MethodPost, path, []byte(objName), a.deps.Config.Sign.Timeout)
	req.Header.Set("Authorization", "Bearer "+sign)
	req.Header.Set("X-Object-Name", objName)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error("从机上传失败", zap.String("obj", objName), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("remote: status %d: %w", resp.StatusCode, xerr.ErrBackendUnavailable)
	}
	return nil
}

type remoteDeleteRequest struct {
	Files []string `json:"files"`
}

type remoteDeleteResponse struct {
	Code int `json:"code"`
	Data struct {
		Failed []string `json:"failed"`
	} `json:"data"`
}

func (a *RemoteAdapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	body, err := json.Marshal(remoteDeleteRequest{Files: objNames})
	if err != nil {
		return objNames, err
	}
	req, err := a.signedRequest(ctx, http.MethodPost, "/api/v1/slave/delete", body)
	if err != nil {
		return objNames, err
	}
	resp, err := a.do(req)
	if err != nil {
		return objNames, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return objNames, fmt.Errorf("remote: status %d: %w", resp.StatusCode, xerr.ErrBackendUnavailable)
	}
	var result remoteDeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return objNames, err
	}
	return result.Data.Failed, nil
}

// Source 下载直连从机，URL 带 HMAC 签名供从机校验
func (a *RemoteAdapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	base := strings.TrimSuffix(a.policy.BaseURL, "/")
	if base == "" {
		base = strings.TrimSuffix(a.policy.Server, "/")
	}
	uri := "/api/v1/slave/source/" + url.PathEscape(req.ObjName)
	query := url.Values{}
	if req.IsDownload {
		query.Set("download", "1")
	}
	if req.DisplayName != "" {
		query.Set("name", req.DisplayName)
	}
	if req.Speed > 0 {
		query.Set("speed", fmt.Sprintf("%d", req.Speed))
	}
	full := uri
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	signed, err := auth.SignURI(a.auth, full, req.TTL)
	if err != nil {
		return nil, err
	}
	return &Source{URL: base + signed.String()}, nil
}

func (a *RemoteAdapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	base := strings.TrimSuffix(a.policy.BaseURL, "/")
	if base == "" {
		base = strings.TrimSuffix(a.policy.Server, "/")
	}
	uri := fmt.Sprintf("/api/v1/slave/thumb/%s?w=%d&h=%d", url.PathEscape(file.SourceName), width, height)
	signed, err := auth.SignURI(a.auth, uri, a.deps.Config.Sign.Timeout)
	if err != nil {
		return nil, err
	}
	return &Source{URL: base + signed.String()}, nil
}

// Token 签发客户端直传从机的凭证，回调地址指向主站
func (a *RemoteAdapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	callbackURL := fmt.Sprintf("%s/api/v1/callback/remote/%s",
		strings.TrimSuffix(a.deps.Config.Server.BaseURL, "/"), ticket.Key)

	credential := map[string]string{
		"obj_name": objName,
		"callback": callbackURL,
	}
	body, err := json.Marshal(credential)
	if err != nil {
		return nil, err
	}
	token := auth.SignRequestBody(a.auth, http.MethodPost, "/api/v1/slave/upload", body, a.deps.Config.Upload.TicketExpiresIn)

	return &models.UploadCredentialResponse{
		Token:     token,
		Policy:    string(body),
		UploadURL: a.endpoint("/api/v1/slave/upload"),
		Key:       objName,
		TicketKey: ticket.Key,
	}, nil
}

// VerifyCallback 校验从机回调的请求体签名
func (a *RemoteAdapter) VerifyCallback(req *http.Request, body []byte) error {
	sign := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	if sign == "" {
		return xerr.ErrUntrusted
	}
	if err := auth.CheckRequestBody(a.auth, req.Method, req.URL.Path, body, sign); err != nil {
		return xerr.ErrUntrusted
	}
	return nil
}
