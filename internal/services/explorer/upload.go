package explorer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/mq"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/thumb"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/luokaiyi/go-cloudvault/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UploadTaskMessage 队列消息体，只带任务 ID，内容以库为准
type UploadTaskMessage struct {
	TaskID uint64 `json:"task_id"`
}

// UploadService 上传协调器：三条路径都在这里汇合
//   - 服务端中转：字节流经本服务暂存，统一转成异步任务执行
//   - 客户端直传：签发上传凭证与一次性回调凭证，回调侧建档
//   - 分片续传：分片到达即预占配额，合并时汇总校验
type UploadService interface {
	// GetCredential 为客户端直传/会话后端签发上传凭证
	GetCredential(ctx context.Context, userID uint64, req *models.UploadRequest, size uint64) (*models.UploadCredentialResponse, error)

	// Upload 服务端中转上传，本机策略同步完成，其余后端入队异步执行
	Upload(ctx context.Context, userID uint64, req *models.UploadRequest, content io.Reader, size uint64) (*models.File, *models.UploadTask, error)

	UploadChunk(ctx context.Context, userID uint64, req *models.UploadChunkRequest, content io.Reader, size uint64) (*models.UploadChunkResponse, error)
	FinalizeChunks(ctx context.Context, userID uint64, req *models.FinalizeChunksRequest) (*models.File, *models.UploadTask, error)

	// ExecuteTask 执行一条上传任务，同步路径与队列工作者共用
	// lastAttempt 为 false 时失败只返回错误不做补偿，留给重投后的下一次执行
	ExecuteTask(ctx context.Context, task *models.UploadTask, lastAttempt bool) error

	// CreateFileRecord 建档并收尾：目录定位、唯一性、配额提交均在一个事务内
	CreateFileRecord(ctx context.Context, userID, policyID uint64, dir, name, objName string, size uint64, picInfo string, quotaCommitted bool) (*models.File, error)
}

type uploadService struct {
	fileRepo   repositories.FileRepository
	folderRepo repositories.FolderRepository
	chunkRepo  repositories.ChunkRepository
	ticketRepo repositories.TicketRepository
	taskRepo   repositories.TaskRepository
	policyRepo repositories.PolicyRepository
	userRepo   repositories.UserRepository
	quota      services.QuotaService
	tm         TransactionManager
	mqClient   *mq.RabbitMQClient
	deps       storage.Deps
	cfg        *config.Config
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService 创建上传服务实例
func NewUploadService(
	fileRepo repositories.FileRepository,
	folderRepo repositories.FolderRepository,
	chunkRepo repositories.ChunkRepository,
	ticketRepo repositories.TicketRepository,
	taskRepo repositories.TaskRepository,
	policyRepo repositories.PolicyRepository,
	userRepo repositories.UserRepository,
	quota services.QuotaService,
	tm TransactionManager,
	mqClient *mq.RabbitMQClient,
	deps storage.Deps,
	cfg *config.Config,
) UploadService {
	return &uploadService{
		fileRepo:   fileRepo,
		folderRepo: folderRepo,
		chunkRepo:  chunkRepo,
		ticketRepo: ticketRepo,
		taskRepo:   taskRepo,
		policyRepo: policyRepo,
		userRepo:   userRepo,
		quota:      quota,
		tm:         tm,
		mqClient:   mqClient,
		deps:       deps,
		cfg:        cfg,
	}
}

// policyForUser 取用户组绑定的存储策略，每次都读最新行
func (s *uploadService) policyForUser(userID uint64) (*models.Policy, error) {
	user, err := s.userRepo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	var policyID uint64
	if user.Group != nil {
		policyID = user.Group.PolicyID
	} else {
		group, err := s.userRepo.GetGroupByID(user.GroupID)
		if err != nil {
			return nil, err
		}
		policyID = group.PolicyID
	}
	return s.policyRepo.GetByID(policyID)
}

// validateUpload 上传前的静态校验：名字、扩展名、大小
func (s *uploadService) validateUpload(policy *models.Policy, name string, size uint64) error {
	if !utils.IsLegalName(name) {
		return xerr.ErrInvalidName
	}
	if !policy.IsExtensionAllowed(name) {
		return xerr.ErrExtensionNotAllowed
	}
	if !policy.IsSizeAllowed(size) {
		return xerr.ErrFileTooLarge
	}
	return nil
}

func (s *uploadService) tempFilePath(name string) string {
	return filepath.Join(s.cfg.Local.TempPath, name)
}

// GetCredential 直传后端：签发凭证 + 一次性回调凭证；其余策略不支持
func (s *uploadService) GetCredential(ctx context.Context, userID uint64, req *models.UploadRequest, size uint64) (*models.UploadCredentialResponse, error) {
	policy, err := s.policyForUser(userID)
	if err != nil {
		return nil, err
	}
	if !policy.IsDirectlyUploaded() && !policy.IsSessionBased() {
		return nil, xerr.ErrPolicyUnsupported
	}
	if err := s.validateUpload(policy, req.Name, size); err != nil {
		return nil, err
	}
	if _, err := s.folderRepo.FindByPositionAbsolute(userID, req.Dir); err != nil {
		return nil, err
	}
	if err := s.quota.Check(userID, size); err != nil {
		return nil, err
	}

	objName := utils.GenerateObjectName(policy.DirRule, policy.FileRule, userID, req.Name, req.Dir)
	ticket := &models.CallbackTicket{
		Key:      uuid.NewString(),
		PolicyID: policy.ID,
		UserID:   userID,
		Dir:      req.Dir,
		Name:     req.Name,
		ObjName:  objName,
	}
	if err := s.ticketRepo.Create(ticket); err != nil {
		return nil, err
	}

	adapter, err := storage.NewAdapter(policy, s.deps)
	if err != nil {
		return nil, err
	}
	credential, err := adapter.Token(ctx, objName, ticket)
	if err != nil {
		return nil, err
	}
	return credential, nil
}

// Upload 暂存字节流后走统一的任务路径
// 配额在提交时即预占，任务失败由执行侧归还
func (s *uploadService) Upload(ctx context.Context, userID uint64, req *models.UploadRequest, content io.Reader, size uint64) (*models.File, *models.UploadTask, error) {
	policy, err := s.policyForUser(userID)
	if err != nil {
		return nil, nil, err
	}
	if policy.IsDirectlyUploaded() {
		// 直传后端的字节流不过本服务
		return nil, nil, xerr.ErrPolicyUnsupported
	}
	if err := s.validateUpload(policy, req.Name, size); err != nil {
		return nil, nil, err
	}
	if _, err := s.folderRepo.FindByPositionAbsolute(userID, req.Dir); err != nil {
		return nil, nil, err
	}
	if err := s.quota.Check(userID, size); err != nil {
		return nil, nil, err
	}

	tempPath := s.tempFilePath("upload_" + uuid.NewString())
	written, err := s.saveToTemp(tempPath, content)
	if err != nil {
		return nil, nil, err
	}
	if uint64(written) != size {
		_ = os.Remove(tempPath)
		return nil, nil, fmt.Errorf("body size %d != declared %d: %w", written, size, xerr.ErrInvalidParams)
	}

	// 预占配额，执行失败时由任务执行器归还
	if err := s.quota.Commit(nil, userID, size); err != nil {
		_ = os.Remove(tempPath)
		return nil, nil, err
	}

	taskType := models.TaskTypeSingle
	if policy.IsSessionBased() {
		taskType = models.TaskTypeSession
	}
	objName := utils.GenerateObjectName(policy.DirRule, policy.FileRule, userID, req.Name, req.Dir)
	task := &models.UploadTask{
		Name:   req.Name,
		Type:   taskType,
		Status: models.TaskStatusTodo,
		UserID: userID,
	}
	if err := task.EncodeContent(&models.UploadTaskContent{
		PolicyID: policy.ID,
		Dir:      req.Dir,
		Name:     req.Name,
		ObjName:  objName,
		TempPath: tempPath,
		Size:     size,
		PicInfo:  s.probePicInfo(req.Name, tempPath),
	}); err != nil {
		return nil, nil, err
	}
	if err := s.taskRepo.Create(task); err != nil {
		_ = s.quota.Release(nil, userID, size)
		_ = os.Remove(tempPath)
		return nil, nil, err
	}

	// 本机策略同步执行，不经过队列
	if policy.Type == models.PolicyTypeLocal {
		if err := s.ExecuteTask(ctx, task, true); err != nil {
			return nil, nil, err
		}
		file, err := s.fileRepo.FindByPath(userID, req.Dir, req.Name)
		if err != nil {
			return nil, nil, err
		}
		return file, task, nil
	}

	if err := s.mqClient.PublishJSON(mq.UploadTaskQueueName, UploadTaskMessage{TaskID: task.ID}); err != nil {
		logger.Error("发布上传任务失败", zap.Uint64("task_id", task.ID), zap.Error(err))
		_ = s.taskRepo.MarkError(task.ID, "publish failed: "+err.Error())
		_ = s.quota.Release(nil, userID, size)
		_ = os.Remove(tempPath)
		return nil, nil, fmt.Errorf("publish upload task: %w", xerr.ErrMQError)
	}
	return nil, task, nil
}

// probePicInfo 探测暂存文件的图片尺寸，非图片记 "0,0"
func (s *uploadService) probePicInfo(name, tempPath string) string {
	if !thumb.IsImage(models.Ext(name)) {
		return models.PicInfoNotImage
	}
	f, err := os.Open(tempPath)
	if err != nil {
		return models.PicInfoNotImage
	}
	defer f.Close()
	w, h := thumb.ProbeDimensions(f)
	if w <= 0 || h <= 0 {
		return models.PicInfoNotImage
	}
	return models.ImageDimensions{Width: w, Height: h}.String()
}

func (s *uploadService) saveToTemp(tempPath string, content io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(f, content)
}

func chunkFileName(ctxToken string, index int) string {
	return fmt.Sprintf("chunk_%s_%d", ctxToken, index)
}

// UploadChunk 分片到达即预占配额并持久化分片记录
// 单片超过上限直接拒绝，会话废弃时由清理任务归还预占
func (s *uploadService) UploadChunk(ctx context.Context, userID uint64, req *models.UploadChunkRequest, content io.Reader, size uint64) (*models.UploadChunkResponse, error) {
	if size > uint64(s.cfg.Upload.ChunkSizeLimit) {
		return nil, xerr.ErrChunkTooLarge
	}
	if req.Total <= 0 || req.Index < 0 || req.Index >= req.Total {
		return nil, xerr.ErrInvalidParams
	}

	ctxToken := req.Ctx
	if ctxToken == "" {
		ctxToken = uuid.NewString()
	}

	if err := s.quota.Check(userID, size); err != nil {
		return nil, err
	}

	tempPath := s.tempFilePath(chunkFileName(ctxToken, req.Index))
	written, err := s.saveToTemp(tempPath, content)
	if err != nil {
		return nil, err
	}
	if uint64(written) != size {
		_ = os.Remove(tempPath)
		return nil, fmt.Errorf("chunk size %d != declared %d: %w", written, size, xerr.ErrInvalidParams)
	}

	// 配额预占与分片记录同一事务
	// 重传同一序号时唯一索引兜底，只按新旧大小差额结算，不重复预占
	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		createErr := s.chunkRepo.Create(tx, &models.Chunk{
			UserID:  userID,
			Ctx:     ctxToken,
			ObjName: chunkFileName(ctxToken, req.Index),
			Index:   req.Index,
			Total:   req.Total,
			Size:    size,
		})
		if createErr == nil {
			return s.quota.Commit(tx, userID, size)
		}
		if !xerr.Is(createErr, xerr.ErrChunkExists) {
			return createErr
		}
		old, err := s.chunkRepo.FindByCtxIndex(userID, ctxToken, req.Index)
		if err != nil {
			return err
		}
		if err := s.chunkRepo.UpdateSize(tx, old.ID, size); err != nil {
			return err
		}
		switch {
		case size > old.Size:
			return s.quota.Commit(tx, userID, size-old.Size)
		case old.Size > size:
			return s.quota.Release(tx, userID, old.Size-size)
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}

	uploaded, err := s.chunkRepo.CountByCtx(userID, ctxToken)
	if err != nil {
		return nil, err
	}
	return &models.UploadChunkResponse{Ctx: ctxToken, Uploaded: int(uploaded)}, nil
}

// FinalizeChunks 校验分片齐全后合并，走统一的任务路径
// 配额已按片预占，这里不再 Check；执行失败按汇总归还
func (s *uploadService) FinalizeChunks(ctx context.Context, userID uint64, req *models.FinalizeChunksRequest) (*models.File, *models.UploadTask, error) {
	chunks, err := s.chunkRepo.ListByCtx(userID, req.Ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) == 0 {
		return nil, nil, xerr.ErrChunkMissing
	}
	total := chunks[0].Total
	if len(chunks) != total {
		return nil, nil, fmt.Errorf("%d of %d chunks arrived: %w", len(chunks), total, xerr.ErrChunkMissing)
	}
	for i, chunk := range chunks {
		if chunk.Index != i {
			return nil, nil, fmt.Errorf("chunk %d missing: %w", i, xerr.ErrChunkMissing)
		}
	}

	policy, err := s.policyForUser(userID)
	if err != nil {
		return nil, nil, err
	}
	var size uint64
	for _, chunk := range chunks {
		size += chunk.Size
	}
	if err := s.validateUpload(policy, req.Name, size); err != nil {
		// 策略校验不过是终局失败，立即归还整段预占并废弃会话
		s.abortChunkSession(userID, req.Ctx, chunks, size)
		return nil, nil, err
	}
	if _, err := s.folderRepo.FindByPositionAbsolute(userID, req.Dir); err != nil {
		return nil, nil, err
	}

	objName := utils.GenerateObjectName(policy.DirRule, policy.FileRule, userID, req.Name, req.Dir)
	task := &models.UploadTask{
		Name:   req.Name,
		Type:   models.TaskTypeChunked,
		Status: models.TaskStatusTodo,
		UserID: userID,
	}
	if err := task.EncodeContent(&models.UploadTaskContent{
		PolicyID: policy.ID,
		Dir:      req.Dir,
		Name:     req.Name,
		ObjName:  objName,
		Size:     size,
		ChunkCtx: req.Ctx,
		PicInfo:  s.probePicInfo(req.Name, s.tempFilePath(chunkFileName(req.Ctx, 0))),
	}); err != nil {
		return nil, nil, err
	}
	if err := s.taskRepo.Create(task); err != nil {
		return nil, nil, err
	}

	if policy.Type == models.PolicyTypeLocal {
		if err := s.ExecuteTask(ctx, task, true); err != nil {
			return nil, nil, err
		}
		file, err := s.fileRepo.FindByPath(userID, req.Dir, req.Name)
		if err != nil {
			return nil, nil, err
		}
		return file, task, nil
	}

	if err := s.mqClient.PublishJSON(mq.UploadTaskQueueName, UploadTaskMessage{TaskID: task.ID}); err != nil {
		logger.Error("发布合并任务失败", zap.Uint64("task_id", task.ID), zap.Error(err))
		_ = s.taskRepo.MarkError(task.ID, "publish failed: "+err.Error())
		s.abortChunkSession(userID, req.Ctx, chunks, size)
		return nil, nil, fmt.Errorf("publish upload task: %w", xerr.ErrMQError)
	}
	return nil, task, nil
}

// abortChunkSession 终结一次分片会话：按汇总大小归还预占配额并清理全部分片
func (s *uploadService) abortChunkSession(userID uint64, ctxToken string, chunks []models.Chunk, size uint64) {
	if err := s.quota.Release(nil, userID, size); err != nil {
		logger.Error("废弃会话配额归还失败",
			zap.String("ctx", ctxToken), zap.Uint64("size", size), zap.Error(err))
	}
	s.cleanupChunks(userID, ctxToken, chunks)
}

// ExecuteTask 任务执行器：成功建档，最终失败归还预占配额并清理暂存
func (s *uploadService) ExecuteTask(ctx context.Context, task *models.UploadTask, lastAttempt bool) error {
	content, err := task.DecodeContent()
	if err != nil {
		_ = s.taskRepo.MarkError(task.ID, "decode content: "+err.Error())
		return err
	}

	var execErr error
	switch task.Type {
	case models.TaskTypeSingle, models.TaskTypeSession:
		execErr = s.executeSingle(ctx, task, content)
	case models.TaskTypeChunked:
		execErr = s.executeChunked(ctx, task, content)
	default:
		execErr = fmt.Errorf("unknown task type %q", task.Type)
	}

	if execErr != nil {
		logger.Error("上传任务执行失败",
			zap.Uint64("task_id", task.ID),
			zap.String("type", task.Type),
			zap.Bool("last_attempt", lastAttempt),
			zap.Error(execErr))
		if lastAttempt {
			s.compensate(ctx, task, content)
			_ = s.taskRepo.MarkError(task.ID, execErr.Error())
		}
		return execErr
	}

	_ = s.taskRepo.MarkSuccess(task.ID)
	return nil
}

func (s *uploadService) executeSingle(ctx context.Context, task *models.UploadTask, content *models.UploadTaskContent) error {
	policy, err := s.policyRepo.GetByID(content.PolicyID)
	if err != nil {
		return err
	}
	adapter, err := storage.NewAdapter(policy, s.deps)
	if err != nil {
		return err
	}

	f, err := os.Open(content.TempPath)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer f.Close()

	if err := adapter.Put(ctx, content.ObjName, f, int64(content.Size)); err != nil {
		return err
	}

	if _, err := s.CreateFileRecord(ctx, task.UserID, content.PolicyID,
		content.Dir, content.Name, content.ObjName, content.Size, content.PicInfo, true); err != nil {
		// 建档失败回收后端对象，避免孤儿
		if failed, delErr := adapter.Delete(ctx, []string{content.ObjName}); delErr != nil || len(failed) > 0 {
			logger.Warn("回收后端对象失败", zap.String("obj", content.ObjName), zap.Error(delErr))
		}
		return err
	}

	_ = os.Remove(content.TempPath)
	return nil
}

func (s *uploadService) executeChunked(ctx context.Context, task *models.UploadTask, content *models.UploadTaskContent) error {
	policy, err := s.policyRepo.GetByID(content.PolicyID)
	if err != nil {
		return err
	}
	adapter, err := storage.NewAdapter(policy, s.deps)
	if err != nil {
		return err
	}
	chunks, err := s.chunkRepo.ListByCtx(task.UserID, content.ChunkCtx)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return xerr.ErrChunkMissing
	}

	if uploader, ok := adapter.(storage.SessionUploader); ok {
		err = s.streamChunksViaSession(ctx, uploader, content, chunks)
	} else {
		err = s.mergeAndPut(ctx, adapter, content, chunks)
	}
	if err != nil {
		return err
	}

	if _, err := s.CreateFileRecord(ctx, task.UserID, content.PolicyID,
		content.Dir, content.Name, content.ObjName, content.Size, content.PicInfo, true); err != nil {
		if failed, delErr := adapter.Delete(ctx, []string{content.ObjName}); delErr != nil || len(failed) > 0 {
			logger.Warn("回收后端对象失败", zap.String("obj", content.ObjName), zap.Error(delErr))
		}
		return err
	}

	s.cleanupChunks(task.UserID, content.ChunkCtx, chunks)
	return nil
}

// streamChunksViaSession 后端支持原生分片会话时逐片转发，不落合并文件
func (s *uploadService) streamChunksViaSession(ctx context.Context, uploader storage.SessionUploader, content *models.UploadTaskContent, chunks []models.Chunk) error {
	sessionID, err := uploader.InitSession(ctx, content.ObjName, int64(content.Size))
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		f, err := os.Open(s.tempFilePath(chunk.ObjName))
		if err != nil {
			uploader.AbortSession(ctx, content.ObjName, sessionID)
			return fmt.Errorf("open chunk %d: %w", chunk.Index, err)
		}
		err = uploader.UploadPart(ctx, content.ObjName, sessionID, chunk.Index, f, int64(chunk.Size))
		f.Close()
		if err != nil {
			uploader.AbortSession(ctx, content.ObjName, sessionID)
			return err
		}
	}
	return uploader.CompleteSession(ctx, content.ObjName, sessionID)
}

func (s *uploadService) mergeAndPut(ctx context.Context, adapter storage.Adapter, content *models.UploadTaskContent, chunks []models.Chunk) error {
	mergedPath := s.tempFilePath("merged_" + content.ChunkCtx)
	merged, err := os.OpenFile(mergedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		f, err := os.Open(s.tempFilePath(chunk.ObjName))
		if err != nil {
			merged.Close()
			return fmt.Errorf("open chunk %d: %w", chunk.Index, err)
		}
		_, err = io.Copy(merged, f)
		f.Close()
		if err != nil {
			merged.Close()
			return err
		}
	}
	if err := merged.Close(); err != nil {
		return err
	}
	defer os.Remove(mergedPath)

	f, err := os.Open(mergedPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return adapter.Put(ctx, content.ObjName, f, int64(content.Size))
}

func (s *uploadService) cleanupChunks(userID uint64, ctxToken string, chunks []models.Chunk) {
	for _, chunk := range chunks {
		_ = os.Remove(s.tempFilePath(chunk.ObjName))
	}
	if err := s.chunkRepo.DeleteByCtx(nil, userID, ctxToken); err != nil {
		logger.Warn("清理分片记录失败", zap.String("ctx", ctxToken), zap.Error(err))
	}
}

// compensate 失败补偿：归还预占配额、清理暂存与分片
func (s *uploadService) compensate(ctx context.Context, task *models.UploadTask, content *models.UploadTaskContent) {
	if err := s.quota.Release(nil, task.UserID, content.Size); err != nil {
		logger.Error("归还预占配额失败",
			zap.Uint64("task_id", task.ID), zap.Uint64("size", content.Size), zap.Error(err))
	}
	if content.TempPath != "" {
		_ = os.Remove(content.TempPath)
	}
	if content.ChunkCtx != "" {
		chunks, err := s.chunkRepo.ListByCtx(task.UserID, content.ChunkCtx)
		if err == nil {
			s.cleanupChunks(task.UserID, content.ChunkCtx, chunks)
		}
	}
}

// CreateFileRecord 上传收尾统一入口：同名冲突由唯一索引兜底
// quotaCommitted 为 true 表示配额已在提交侧预占，这里不再提交也不归还，
// 失败时的归还只属于任务执行器的补偿逻辑，保证同一笔预占恰好归还一次
func (s *uploadService) CreateFileRecord(ctx context.Context, userID, policyID uint64, dir, name, objName string, size uint64, picInfo string, quotaCommitted bool) (*models.File, error) {
	folder, err := s.folderRepo.FindByPositionAbsolute(userID, dir)
	if err != nil {
		return nil, err
	}

	file := &models.File{
		UserID:     userID,
		Dir:        folder.PositionAbsolute,
		Name:       name,
		SourceName: objName,
		Size:       size,
		PicInfo:    picInfo,
		PolicyID:   policyID,
		FolderID:   folder.ID,
	}

	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.fileRepo.Create(tx, file); err != nil {
			return err
		}
		if !quotaCommitted {
			return s.quota.Commit(tx, userID, size)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}
