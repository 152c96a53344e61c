package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/cache"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
)

const (
	oneDriveOAuthEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/token"

	// 小文件直接 PUT content，超过则走上传会话
	oneDriveSmallFileLimit = 4 << 20
)

// OneDriveAdapter 通过 Microsoft Graph API 操作 OneDrive 驱动器
// 访问令牌保存在策略记录上，由定时任务刷新
type OneDriveAdapter struct {
	policy *models.Policy
	deps   Deps
}

var _ Adapter = (*OneDriveAdapter)(nil)
var _ SessionUploader = (*OneDriveAdapter)(nil)

// NewOneDriveAdapter 创建 OneDrive 存储适配器
// 策略 Server 为 Graph 端点（默认 https://graph.microsoft.com/v1.0），
// AccessKey/SecretKey 为应用的 ClientID/ClientSecret
func NewOneDriveAdapter(policy *models.Policy, deps Deps) *OneDriveAdapter {
	if policy.Server == "" {
		policy.Server = "https://graph.microsoft.com/v1.0"
	}
	return &OneDriveAdapter{policy: policy, deps: deps}
}

// itemURL 把对象名映射为 Graph 的 path-based 地址
func (a *OneDriveAdapter) itemURL(objName, sub string) string {
	base := strings.TrimSuffix(a.policy.Server, "/")
	escaped := url.PathEscape(objName)
	if sub == "" {
		return fmt.Sprintf("%s/me/drive/root:/%s", base, escaped)
	}
	return fmt.Sprintf("%s/me/drive/root:/%s:/%s", base, escaped, sub)
}

// accessToken 优先读缓存里的刷新结果，退回策略记录上的令牌
func (a *OneDriveAdapter) accessToken(ctx context.Context) (string, error) {
	key := cache.GeneratePolicyTokenKey(a.policy.ID)
	var cached string
	if err := a.deps.Cache.Get(ctx, key, &cached); err == nil && cached != "" {
		return cached, nil
	}
	if a.policy.AccessToken == "" {
		return "", fmt.Errorf("onedrive: 策略 %d 未授权: %w", a.policy.ID, xerr.ErrTokenInvalid)
	}
	return a.policy.AccessToken, nil
}

func (a *OneDriveAdapter) request(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

type oneDriveError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OneDriveAdapter) decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("onedrive: %w", xerr.ErrFileNotFound)
	}
	var graphErr oneDriveError
	_ = json.NewDecoder(resp.Body).Decode(&graphErr)
	logger.Error("OneDrive 请求失败",
		zap.Int("status", resp.StatusCode),
		zap.String("code", graphErr.Error.Code),
		zap.String("message", graphErr.Error.Message))
	return fmt.Errorf("onedrive: %s: %w", graphErr.Error.Code, xerr.ErrBackendUnavailable)
}

func (a *OneDriveAdapter) Get(ctx context.Context, objName string) (io.ReadCloser, error) {
	req, err := a.request(ctx, http.MethodGet, a.itemURL(objName, "content"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive: get content: %w", xerr.ErrBackendUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, a.decodeError(resp)
	}
	return resp.Body, nil
}

func (a *OneDriveAdapter) Put(ctx context.Context, objName string, file io.Reader, size int64) error {
	if size > oneDriveSmallFileLimit {
		return a.putViaSession(ctx, objName, file, size)
	}

	req, err := a.request(ctx, http.MethodPut, a.itemURL(objName, "content"), file)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return fmt.Errorf("onedrive: put content: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return a.decodeError(resp)
	}
	return nil
}

// putViaSession 服务端中转大文件时按分片大小切流上传
func (a *OneDriveAdapter) putViaSession(ctx context.Context, objName string, file io.Reader, size int64) error {
	sessionID, err := a.InitSession(ctx, objName, size)
	if err != nil {
		return err
	}

	chunkSize := int64(a.policy.OptionsSerialized.ChunkSize)
	if chunkSize <= 0 {
		chunkSize = oneDriveSmallFileLimit
	}

	var sent int64
	for index := 0; sent < size; index++ {
		partSize := chunkSize
		if size-sent < partSize {
			partSize = size - sent
		}
		if err := a.UploadPart(ctx, objName, sessionID, index, io.LimitReader(file, partSize), partSize); err != nil {
			a.AbortSession(ctx, objName, sessionID)
			return err
		}
		sent += partSize
	}
	return a.CompleteSession(ctx, objName, sessionID)
}

func (a *OneDriveAdapter) Delete(ctx context.Context, objNames []string) ([]string, error) {
	var failed []string
	for _, objName := range objNames {
		req, err := a.request(ctx, http.MethodDelete, a.itemURL(objName, ""), nil)
		if err != nil {
			failed = append(failed, objName)
			continue
		}
		resp, err := a.deps.Client.Do(req)
		if err != nil {
			failed = append(failed, objName)
			continue
		}
		resp.Body.Close()
		// 404 视为已删除
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
			logger.Warn("OneDrive 删除对象失败", zap.String("obj", objName), zap.Int("status", resp.StatusCode))
			failed = append(failed, objName)
		}
	}
	return failed, nil
}

// Source 取 Graph 的临时下载直链
func (a *OneDriveAdapter) Source(ctx context.Context, req *SourceRequest) (*Source, error) {
	rawURL := a.itemURL(req.ObjName, "") + "?select=id,@microsoft.graph.downloadUrl"
	graphReq, err := a.request(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.deps.Client.Do(graphReq)
	if err != nil {
		return nil, fmt.Errorf("onedrive: get item: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.decodeError(resp)
	}

	var item struct {
		DownloadURL string `json:"@microsoft.graph.downloadUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, err
	}
	if item.DownloadURL == "" {
		return nil, fmt.Errorf("onedrive: 直链缺失: %w", xerr.ErrBackendUnavailable)
	}
	return &Source{URL: item.DownloadURL}, nil
}

// Meta 向 Graph 核实对象存在并取其大小
func (a *OneDriveAdapter) Meta(ctx context.Context, objName string) (uint64, error) {
	req, err := a.request(ctx, http.MethodGet, a.itemURL(objName, "")+"?select=id,size", nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("onedrive: get item: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, a.decodeError(resp)
	}
	var item struct {
		Size uint64 `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return 0, err
	}
	return item.Size, nil
}

// Thumb 用 Graph 的自定义裁剪缩略图
func (a *OneDriveAdapter) Thumb(ctx context.Context, file *models.File, width, height int) (*Source, error) {
	size := fmt.Sprintf("c%dx%d_Crop", width, height)
	rawURL := a.itemURL(file.SourceName, "thumbnails") + "?select=" + size
	req, err := a.request(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive: get thumbnails: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.decodeError(resp)
	}

	var thumbs struct {
		Value []map[string]struct {
			URL string `json:"url"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&thumbs); err != nil {
		return nil, err
	}
	if len(thumbs.Value) == 0 {
		return nil, fmt.Errorf("onedrive: %w", xerr.ErrPolicyUnsupported)
	}
	for _, entry := range thumbs.Value[0] {
		if entry.URL != "" {
			return &Source{URL: entry.URL}, nil
		}
	}
	return nil, fmt.Errorf("onedrive: %w", xerr.ErrPolicyUnsupported)
}

// Token 为客户端开一个上传会话，客户端按 Content-Range 分片直传后回调主站
func (a *OneDriveAdapter) Token(ctx context.Context, objName string, ticket *models.CallbackTicket) (*models.UploadCredentialResponse, error) {
	uploadURL, err := a.createUploadSession(ctx, objName)
	if err != nil {
		return nil, err
	}
	return &models.UploadCredentialResponse{
		Policy:    uploadURL,
		UploadURL: uploadURL,
		Key:       objName,
		TicketKey: ticket.Key,
	}, nil
}

type oneDriveUploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

func (a *OneDriveAdapter) createUploadSession(ctx context.Context, objName string) (string, error) {
	body := strings.NewReader(`{"item":{"@microsoft.graph.conflictBehavior":"replace"}}`)
	req, err := a.request(ctx, http.MethodPost, a.itemURL(objName, "createUploadSession"), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("onedrive: create session: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", a.decodeError(resp)
	}

	var session oneDriveUploadSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", err
	}
	if session.UploadURL == "" {
		return "", fmt.Errorf("onedrive: 会话地址缺失: %w", xerr.ErrBackendUnavailable)
	}
	return session.UploadURL, nil
}

func sessionStateKey(sessionID string) string {
	return "onedrive:session:" + sessionID
}

// InitSession 创建上传会话，会话地址即 sessionID，总大小与进度记入缓存
func (a *OneDriveAdapter) InitSession(ctx context.Context, objName string, total int64) (string, error) {
	uploadURL, err := a.createUploadSession(ctx, objName)
	if err != nil {
		return "", err
	}
	key := sessionStateKey(uploadURL)
	if err := a.deps.Cache.HSet(ctx, key, "total", strconv.FormatInt(total, 10)); err != nil {
		return "", err
	}
	if err := a.deps.Cache.HSet(ctx, key, "offset", "0"); err != nil {
		return "", err
	}
	_ = a.deps.Cache.Expire(ctx, key, 24*time.Hour)
	return uploadURL, nil
}

// UploadPart 按序提交分片，Content-Range 的偏移取缓存里的累计进度
func (a *OneDriveAdapter) UploadPart(ctx context.Context, objName, sessionID string, index int, part io.Reader, size int64) error {
	key := sessionStateKey(sessionID)
	totalStr, err := a.deps.Cache.HGet(ctx, key, "total")
	if err != nil {
		return fmt.Errorf("onedrive: 会话状态丢失: %w", xerr.ErrBackendUnavailable)
	}
	offsetStr, err := a.deps.Cache.HGet(ctx, key, "offset")
	if err != nil {
		return fmt.Errorf("onedrive: 会话状态丢失: %w", xerr.ErrBackendUnavailable)
	}
	total, _ := strconv.ParseInt(totalStr, 10, 64)
	offset, _ := strconv.ParseInt(offsetStr, 10, 64)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionID, part)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+size-1, total))

	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return fmt.Errorf("onedrive: upload part: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	// 中间分片 202，末分片 200/201
	if resp.StatusCode != http.StatusAccepted &&
		resp.StatusCode != http.StatusOK &&
		resp.StatusCode != http.StatusCreated {
		return a.decodeError(resp)
	}
	return a.deps.Cache.HSet(ctx, key, "offset", strconv.FormatInt(offset+size, 10))
}

// CompleteSession 末分片提交即完成，这里只清理会话状态
func (a *OneDriveAdapter) CompleteSession(ctx context.Context, objName, sessionID string) error {
	key := sessionStateKey(sessionID)
	if totalStr, err := a.deps.Cache.HGet(ctx, key, "total"); err == nil {
		offsetStr, _ := a.deps.Cache.HGet(ctx, key, "offset")
		if totalStr != offsetStr {
			return fmt.Errorf("onedrive: 会话未写满 %s/%s: %w", offsetStr, totalStr, xerr.ErrChunkMissing)
		}
	}
	return a.deps.Cache.Del(ctx, key)
}

// AbortSession 丢弃会话，远端清理失败只记日志
func (a *OneDriveAdapter) AbortSession(ctx context.Context, objName, sessionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, sessionID, nil)
	if err == nil {
		if resp, doErr := a.deps.Client.Do(req); doErr == nil {
			resp.Body.Close()
		} else {
			logger.Warn("OneDrive 取消上传会话失败", zap.String("obj", objName), zap.Error(doErr))
		}
	}
	_ = a.deps.Cache.Del(ctx, sessionStateKey(sessionID))
}

// Credential OAuth 刷新得到的新令牌
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshAccessToken 用策略上的 RefreshToken 换新令牌并写入缓存
// 持久化到策略记录由调用方（定时任务）完成
func (a *OneDriveAdapter) RefreshAccessToken(ctx context.Context) (*Credential, error) {
	if a.policy.RefreshToken == "" {
		return nil, fmt.Errorf("onedrive: 策略 %d 无刷新令牌: %w", a.policy.ID, xerr.ErrTokenInvalid)
	}

	form := url.Values{}
	form.Set("client_id", a.policy.AccessKey)
	form.Set("client_secret", a.policy.SecretKey)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.policy.RefreshToken)
	if a.policy.OptionsSerialized.OdRedirect != "" {
		form.Set("redirect_uri", a.policy.OptionsSerialized.OdRedirect)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oneDriveOAuthEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.deps.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive: refresh token: %w", xerr.ErrBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, a.decodeError(resp)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	cred := &Credential{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	ttl := time.Until(cred.ExpiresAt) - 5*time.Minute
	if ttl > 0 {
		_ = a.deps.Cache.Set(ctx, cache.GeneratePolicyTokenKey(a.policy.ID), cred.AccessToken, ttl)
	}
	return cred, nil
}
