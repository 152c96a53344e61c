package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/luokaiyi/go-cloudvault/internal/services"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ListResult 目录列表响应
type ListResult struct {
	Folders []models.Folder `json:"folders"`
	Files   []models.File   `json:"files"`
}

type FileService interface {
	// 查询
	List(userID uint64, dir string) (*ListResult, error)
	Search(userID uint64, keyword string) ([]models.File, error)
	GetFileByPath(userID uint64, logicalPath string) (*models.File, error)

	// 文件操作，均以逻辑路径定位
	Rename(ctx context.Context, userID uint64, logicalPath, newName string) (*models.File, error)
	Move(ctx context.Context, userID uint64, req *models.MoveRequest) error
	Delete(ctx context.Context, userID uint64, paths []string) error

	// 下载与预览
	Source(ctx context.Context, userID uint64, logicalPath string, isDownload bool) (*storage.Source, *models.File, error)
	Thumb(ctx context.Context, userID uint64, logicalPath string) (*storage.Source, error)
	ServeLocalContent(ctx context.Context, w http.ResponseWriter, r *http.Request, file *models.File, src *storage.Source, isDownload bool) error

	// 在线编辑
	GetContent(ctx context.Context, userID uint64, logicalPath string) (*models.File, io.ReadCloser, error)
	PutContent(ctx context.Context, userID uint64, logicalPath string, content io.Reader, size uint64) (*models.File, error)

	// DeleteFileRecords 按策略分组做后端批量删除，再在一个事务里
	// 删掉元数据并归还配额；目录递归删除也走这里
	DeleteFileRecords(ctx context.Context, userID uint64, files []models.File) error
}

type fileService struct {
	fileRepo    repositories.FileRepository
	folderRepo  repositories.FolderRepository
	userRepo    repositories.UserRepository
	policyRepo  repositories.PolicyRepository
	quota       services.QuotaService
	tm          TransactionManager
	storageDeps storage.Deps
	cfg         *config.Config
}

var _ FileService = (*fileService)(nil)

// NewFileService 创建一个新的文件服务实例
func NewFileService(
	fileRepo repositories.FileRepository,
	folderRepo repositories.FolderRepository,
	userRepo repositories.UserRepository,
	policyRepo repositories.PolicyRepository,
	quota services.QuotaService,
	tm TransactionManager,
	storageDeps storage.Deps,
	cfg *config.Config,
) FileService {
	return &fileService{
		fileRepo:    fileRepo,
		folderRepo:  folderRepo,
		userRepo:    userRepo,
		policyRepo:  policyRepo,
		quota:       quota,
		tm:          tm,
		storageDeps: storageDeps,
		cfg:         cfg,
	}
}

// adapterFor 每次操作都读最新的策略行再构造适配器
func (s *fileService) adapterFor(policyID uint64) (storage.Adapter, *models.Policy, error) {
	policy, err := s.policyRepo.GetByID(policyID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := storage.NewAdapter(policy, s.storageDeps)
	if err != nil {
		return nil, nil, err
	}
	return adapter, policy, nil
}

func (s *fileService) List(userID uint64, dir string) (*ListResult, error) {
	folder, err := s.folderRepo.FindByPositionAbsolute(userID, dir)
	if err != nil {
		return nil, err
	}
	folders, err := s.folderRepo.ListChildren(userID, folder.ID)
	if err != nil {
		return nil, err
	}
	files, err := s.fileRepo.ListByFolderID(userID, folder.ID)
	if err != nil {
		return nil, err
	}
	return &ListResult{Folders: folders, Files: files}, nil
}

// findByLogicalPath 把逻辑路径解析成文件记录
func (s *fileService) findByLogicalPath(userID uint64, logicalPath string) (*models.File, error) {
	dir, name := models.SplitPath(logicalPath)
	if name == "" {
		return nil, xerr.ErrFileNotFound
	}
	return s.fileRepo.FindByPath(userID, dir, name)
}

func (s *fileService) Search(userID uint64, keyword string) ([]models.File, error) {
	if keyword == "" {
		return nil, nil
	}
	return s.fileRepo.SearchByName(userID, keyword)
}

func (s *fileService) GetFileByPath(userID uint64, logicalPath string) (*models.File, error) {
	return s.findByLogicalPath(userID, logicalPath)
}

// Rename 改名不允许变更扩展名，新名还要通过策略的扩展名白名单
func (s *fileService) Rename(ctx context.Context, userID uint64, logicalPath, newName string) (*models.File, error) {
	if !utils.IsLegalName(newName) {
		return nil, xerr.ErrInvalidName
	}

	file, err := s.findByLogicalPath(userID, logicalPath)
	if err != nil {
		return nil, err
	}
	if file.Name == newName {
		return file, nil
	}
	if models.Ext(file.Name) != models.Ext(newName) {
		return nil, xerr.ErrExtensionChanged
	}

	policy, err := s.policyRepo.GetByID(file.PolicyID)
	if err != nil {
		return nil, err
	}
	if !policy.IsExtensionAllowed(newName) {
		return nil, xerr.ErrExtensionNotAllowed
	}

	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := s.fileRepo.FindByPath(userID, file.Dir, newName); err == nil {
			return xerr.ErrNameConflict
		} else if !errors.Is(err, xerr.ErrFileNotFound) {
			return err
		}
		file.Name = newName
		return s.fileRepo.Update(tx, file)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// Move 仅支持移动文件，目录移动是保留的功能限制
func (s *fileService) Move(ctx context.Context, userID uint64, req *models.MoveRequest) error {
	if len(req.Folders) > 0 {
		return xerr.ErrFolderMoveUnsupported
	}
	if len(req.Files) == 0 {
		return nil
	}

	dst, err := s.folderRepo.FindByPositionAbsolute(userID, req.Dst)
	if err != nil {
		return err
	}
	files := make([]models.File, 0, len(req.Files))
	for _, p := range req.Files {
		file, err := s.findByLogicalPath(userID, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		files = append(files, *file)
	}

	return s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		for i := range files {
			file := &files[i]
			if file.FolderID == dst.ID {
				continue
			}
			if _, err := s.fileRepo.FindByPath(userID, dst.PositionAbsolute, file.Name); err == nil {
				return fmt.Errorf("%s: %w", file.Name, xerr.ErrNameConflict)
			} else if !errors.Is(err, xerr.ErrFileNotFound) {
				return err
			}
			file.Dir = dst.PositionAbsolute
			file.FolderID = dst.ID
			if err := s.fileRepo.Update(tx, file); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 按路径删除文件，任一路径不存在直接整体失败
func (s *fileService) Delete(ctx context.Context, userID uint64, paths []string) error {
	files := make([]models.File, 0, len(paths))
	for _, p := range paths {
		file, err := s.findByLogicalPath(userID, p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		files = append(files, *file)
	}
	if len(files) == 0 {
		return nil
	}
	return s.DeleteFileRecords(ctx, userID, files)
}

// DeleteFileRecords 后端删除尽力而为：删不掉的对象只记日志，
// 元数据删除与配额归还仍然推进，避免悬挂记录占着配额
// 适配器都构造不出来的策略例外：对象必然还在后端，整组文件原样保留，
// 否则记录没了对象成了孤儿，占的空间也再没人补偿
func (s *fileService) DeleteFileRecords(ctx context.Context, userID uint64, files []models.File) error {
	byPolicy := lo.GroupBy(files, func(f models.File) uint64 { return f.PolicyID })

	deletable := make([]models.File, 0, len(files))
	for policyID, group := range byPolicy {
		adapter, _, err := s.adapterFor(policyID)
		if err != nil {
			logger.Warn("删除时构造存储适配器失败，该策略下的文件整组跳过",
				zap.Uint64("policy_id", policyID), zap.Error(err))
			continue
		}
		objNames := lo.Map(group, func(f models.File, _ int) string { return f.SourceName })
		if failed, err := adapter.Delete(ctx, objNames); err != nil || len(failed) > 0 {
			logger.Warn("后端对象删除未完全成功",
				zap.Uint64("policy_id", policyID),
				zap.Strings("failed", failed),
				zap.Error(err))
		}
		deletable = append(deletable, group...)
	}
	if len(deletable) == 0 {
		return nil
	}

	ids := lo.Map(deletable, func(f models.File, _ int) uint64 { return f.ID })
	totalSize := lo.SumBy(deletable, func(f models.File) uint64 { return f.Size })

	return s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := s.fileRepo.DeleteByIDs(tx, ids); err != nil {
			return err
		}
		return s.quota.Release(tx, userID, totalSize)
	})
}

// Source 生成预览/下载能力，本机策略带上用户组限速
func (s *fileService) Source(ctx context.Context, userID uint64, logicalPath string, isDownload bool) (*storage.Source, *models.File, error) {
	file, err := s.findByLogicalPath(userID, logicalPath)
	if err != nil {
		return nil, nil, err
	}
	adapter, _, err := s.adapterFor(file.PolicyID)
	if err != nil {
		return nil, nil, err
	}

	var speed int64
	if user, err := s.userRepo.GetUserByID(userID); err == nil && user.Group != nil {
		speed = user.Group.SpeedLimit
	}

	src, err := adapter.Source(ctx, &storage.SourceRequest{
		ObjName:     file.SourceName,
		DisplayName: file.Name,
		IsDownload:  isDownload,
		TTL:         s.cfg.Sign.Timeout,
		Speed:       speed,
	})
	if err != nil {
		return nil, nil, err
	}

	// 本机策略补一条签名直链，浏览器可以不带登录态直接取流
	if local, ok := adapter.(*storage.LocalAdapter); ok && src.URL == "" {
		src.URL, err = local.SignTemporaryURL(file.SourceName, file.Name, s.cfg.Sign.Timeout, isDownload)
		if err != nil {
			return nil, nil, err
		}
	}
	return src, file, nil
}

func (s *fileService) Thumb(ctx context.Context, userID uint64, logicalPath string) (*storage.Source, error) {
	file, err := s.findByLogicalPath(userID, logicalPath)
	if err != nil {
		return nil, err
	}
	if file.Dimensions() == nil {
		return nil, xerr.ErrPolicyUnsupported
	}
	adapter, _, err := s.adapterFor(file.PolicyID)
	if err != nil {
		return nil, err
	}
	return adapter.Thumb(ctx, file, s.cfg.Thumb.Width, s.cfg.Thumb.Height)
}

// ServeLocalContent 本机策略的流式发送，带 Range 与限速
func (s *fileService) ServeLocalContent(ctx context.Context, w http.ResponseWriter, r *http.Request, file *models.File, src *storage.Source, isDownload bool) error {
	adapter, policy, err := s.adapterFor(file.PolicyID)
	if err != nil {
		return err
	}
	local, ok := adapter.(*storage.LocalAdapter)
	if !ok {
		return fmt.Errorf("policy %d (%s) has no local stream: %w",
			policy.ID, policy.Type, xerr.ErrPolicyUnsupported)
	}
	return local.ServeContent(w, r, src, file.Name, isDownload)
}

// GetContent 在线编辑读取，超出编辑上限直接拒绝
func (s *fileService) GetContent(ctx context.Context, userID uint64, logicalPath string) (*models.File, io.ReadCloser, error) {
	file, err := s.findByLogicalPath(userID, logicalPath)
	if err != nil {
		return nil, nil, err
	}
	if file.Size > uint64(s.cfg.Local.EditSizeLimit) {
		return nil, nil, xerr.ErrEditTooLarge
	}
	adapter, _, err := s.adapterFor(file.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := adapter.Get(ctx, file.SourceName)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// PutContent 覆盖写文件内容：先按增量配额校验，再写后端，最后落元数据
func (s *fileService) PutContent(ctx context.Context, userID uint64, logicalPath string, content io.Reader, size uint64) (*models.File, error) {
	file, err := s.findByLogicalPath(userID, logicalPath)
	if err != nil {
		return nil, err
	}
	if size > uint64(s.cfg.Local.EditSizeLimit) {
		return nil, xerr.ErrEditTooLarge
	}

	adapter, policy, err := s.adapterFor(file.PolicyID)
	if err != nil {
		return nil, err
	}
	if !policy.IsSizeAllowed(size) {
		return nil, xerr.ErrFileTooLarge
	}
	if size > file.Size {
		if err := s.quota.Check(userID, size-file.Size); err != nil {
			return nil, err
		}
	}

	if err := adapter.Put(ctx, file.SourceName, content, int64(size)); err != nil {
		return nil, err
	}

	oldSize := file.Size
	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		file.Size = size
		if err := s.fileRepo.Update(tx, file); err != nil {
			return err
		}
		if size > oldSize {
			return s.quota.Commit(tx, userID, size-oldSize)
		}
		return s.quota.Release(tx, userID, oldSize-size)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}
