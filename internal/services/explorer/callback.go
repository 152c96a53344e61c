package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/thumb"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/luokaiyi/go-cloudvault/internal/services"
	"go.uber.org/zap"
)

// CallbackService 处理后端上传完成后的入站回调
// 凭证一次性消费 + 逐后端签名校验，任何失败都触发对远端对象的补偿删除
type CallbackService interface {
	// ProcessQiniu 七牛服务端回调，鉴权头由七牛签名
	ProcessQiniu(ctx context.Context, req *http.Request, ticketKey string, body []byte) (*models.File, error)
	// ProcessUpyun 又拍云异步通知，Content-MD5 校验回调体
	ProcessUpyun(ctx context.Context, contentMD5, ticketKey string, body []byte) (*models.File, error)
	// ProcessRemote 从机节点回调，HMAC 请求体签名
	ProcessRemote(ctx context.Context, req *http.Request, ticketKey string, body []byte) (*models.File, error)
	// ProcessClientCompleted 客户端自报完成（OSS 表单直传 / OneDrive 会话），
	// 不信任客户端参数，向后端核实对象元数据
	ProcessClientCompleted(ctx context.Context, userID uint64, ticketKey string) (*models.File, error)
}

type callbackService struct {
	ticketRepo repositories.TicketRepository
	policyRepo repositories.PolicyRepository
	uploadSvc  UploadService
	quota      services.QuotaService
	deps       storage.Deps
	cfg        *config.Config
}

var _ CallbackService = (*callbackService)(nil)

// NewCallbackService 创建回调服务实例
func NewCallbackService(
	ticketRepo repositories.TicketRepository,
	policyRepo repositories.PolicyRepository,
	uploadSvc UploadService,
	quota services.QuotaService,
	deps storage.Deps,
	cfg *config.Config,
) CallbackService {
	return &callbackService{
		ticketRepo: ticketRepo,
		policyRepo: policyRepo,
		uploadSvc:  uploadSvc,
		quota:      quota,
		cfg:        cfg,
		deps:       deps,
	}
}

// peek 只读取凭证并准备好对应的策略与适配器，不消费
// 签名没校验过就烧票，攒一个坏包就能永久废掉一次合法上传，
// 所以各回调入口都是先校验后 Consume
func (s *callbackService) peek(ticketKey string) (*models.CallbackTicket, *models.Policy, storage.Adapter, error) {
	ticket, err := s.ticketRepo.GetByKey(ticketKey)
	if err != nil {
		return nil, nil, nil, err
	}
	policy, err := s.policyRepo.GetByID(ticket.PolicyID)
	if err != nil {
		return nil, nil, nil, err
	}
	adapter, err := storage.NewAdapter(policy, s.deps)
	if err != nil {
		return nil, nil, nil, err
	}
	return ticket, policy, adapter, nil
}

// finish 回调处理的共同末段：配额校验与建档，失败时补偿删除远端对象
func (s *callbackService) finish(ctx context.Context, adapter storage.Adapter, ticket *models.CallbackTicket, size uint64, picInfo string) (*models.File, error) {
	if err := s.quota.Check(ticket.UserID, size); err != nil {
		s.compensate(ctx, adapter, ticket.ObjName)
		return nil, err
	}
	file, err := s.uploadSvc.CreateFileRecord(ctx, ticket.UserID, ticket.PolicyID,
		ticket.Dir, ticket.Name, ticket.ObjName, size, picInfo, false)
	if err != nil {
		s.compensate(ctx, adapter, ticket.ObjName)
		return nil, err
	}
	return file, nil
}

func (s *callbackService) compensate(ctx context.Context, adapter storage.Adapter, objName string) {
	if failed, err := adapter.Delete(ctx, []string{objName}); err != nil || len(failed) > 0 {
		logger.Warn("回调失败后的补偿删除未成功", zap.String("obj", objName), zap.Error(err))
	}
}

// qiniuCallbackBody 与上传凭证中声明的回调体模板一一对应
type qiniuCallbackBody struct {
	Name       string `json:"name"`
	SourceName string `json:"source_name"`
	Size       uint64 `json:"size"`
	PicInfo    string `json:"pic_info"`
}

func (s *callbackService) ProcessQiniu(ctx context.Context, req *http.Request, ticketKey string, body []byte) (*models.File, error) {
	ticket, _, adapter, err := s.peek(ticketKey)
	if err != nil {
		return nil, err
	}
	qiniu, ok := adapter.(*storage.QiniuAdapter)
	if !ok {
		return nil, xerr.ErrPolicyUnsupported
	}
	if err := qiniu.VerifyCallback(req); err != nil {
		return nil, err
	}

	var payload qiniuCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("qiniu callback body: %w", xerr.ErrInvalidParams)
	}
	if payload.SourceName != ticket.ObjName {
		logger.Warn("七牛回调对象键与凭证不符",
			zap.String("expect", ticket.ObjName), zap.String("got", payload.SourceName))
		return nil, xerr.ErrUntrusted
	}
	if _, err := s.ticketRepo.Consume(ticketKey); err != nil {
		return nil, err
	}
	return s.finish(ctx, adapter, ticket, payload.Size, normalizePicInfo(payload.PicInfo))
}

func (s *callbackService) ProcessUpyun(ctx context.Context, contentMD5, ticketKey string, body []byte) (*models.File, error) {
	ticket, _, adapter, err := s.peek(ticketKey)
	if err != nil {
		return nil, err
	}
	up, ok := adapter.(*storage.UpyunAdapter)
	if !ok {
		return nil, xerr.ErrPolicyUnsupported
	}
	if err := up.VerifyCallback(contentMD5, body); err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("upyun callback body: %w", xerr.ErrInvalidParams)
	}
	if form.Get("code") != "200" {
		return nil, fmt.Errorf("upyun upload failed: %s: %w", form.Get("message"), xerr.ErrUntrusted)
	}
	size, _ := strconv.ParseUint(form.Get("file_size"), 10, 64)
	picInfo := models.PicInfoNotImage
	if w, h := form.Get("image-width"), form.Get("image-height"); w != "" && h != "" {
		picInfo = normalizePicInfo(w + "," + h)
	}
	if _, err := s.ticketRepo.Consume(ticketKey); err != nil {
		return nil, err
	}
	return s.finish(ctx, adapter, ticket, size, picInfo)
}

// remoteCallbackBody 从机上传完成后回传的载荷
type remoteCallbackBody struct {
	ObjName string `json:"obj_name"`
	Size    uint64 `json:"size"`
	PicInfo string `json:"pic_info"`
}

func (s *callbackService) ProcessRemote(ctx context.Context, req *http.Request, ticketKey string, body []byte) (*models.File, error) {
	ticket, _, adapter, err := s.peek(ticketKey)
	if err != nil {
		return nil, err
	}
	remote, ok := adapter.(*storage.RemoteAdapter)
	if !ok {
		return nil, xerr.ErrPolicyUnsupported
	}
	if err := remote.VerifyCallback(req, body); err != nil {
		return nil, err
	}

	var payload remoteCallbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("remote callback body: %w", xerr.ErrInvalidParams)
	}
	if payload.ObjName != ticket.ObjName {
		return nil, xerr.ErrUntrusted
	}
	if _, err := s.ticketRepo.Consume(ticketKey); err != nil {
		return nil, err
	}
	return s.finish(ctx, adapter, ticket, payload.Size, normalizePicInfo(payload.PicInfo))
}

func (s *callbackService) ProcessClientCompleted(ctx context.Context, userID uint64, ticketKey string) (*models.File, error) {
	ticket, _, adapter, err := s.peek(ticketKey)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != userID {
		return nil, xerr.ErrForbidden
	}
	meta, ok := adapter.(storage.MetaProvider)
	if !ok {
		return nil, xerr.ErrPolicyUnsupported
	}
	size, err := meta.Meta(ctx, ticket.ObjName)
	if err != nil {
		// 对象不存在说明客户端谎报完成，凭证留着等真正完成，也无须补偿删除
		return nil, err
	}

	if _, err := s.ticketRepo.Consume(ticketKey); err != nil {
		return nil, err
	}

	// 远端探测图片尺寸代价高，图片标记为未探测，非图片直接定格
	picInfo := ""
	if !thumb.IsImage(models.Ext(ticket.Name)) {
		picInfo = models.PicInfoNotImage
	}
	return s.finish(ctx, adapter, ticket, size, picInfo)
}

// normalizePicInfo 回调里的尺寸串不可信，解析失败一律按非图片处理
func normalizePicInfo(raw string) string {
	probe := models.File{PicInfo: raw}
	if d := probe.Dimensions(); d != nil {
		return d.String()
	}
	return models.PicInfoNotImage
}
