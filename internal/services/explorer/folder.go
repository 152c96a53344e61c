package explorer

import (
	"context"
	"errors"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type FolderService interface {
	Create(ctx context.Context, userID uint64, dir, name string) (*models.Folder, error)
	// Rename 目录改名，一个事务内级联重写所有子目录与子文件的路径前缀
	Rename(ctx context.Context, userID uint64, logicalPath, newName string) (*models.Folder, error)
	// DeleteRecursive 递归删除目录树及其全部文件
	DeleteRecursive(ctx context.Context, userID uint64, logicalPath string) error
	// EnsureRoot 保证用户根目录存在，返回根目录记录
	EnsureRoot(ctx context.Context, userID uint64) (*models.Folder, error)
}

type folderService struct {
	folderRepo repositories.FolderRepository
	fileRepo   repositories.FileRepository
	fileSvc    FileService
	tm         TransactionManager
}

var _ FolderService = (*folderService)(nil)

// NewFolderService 创建目录服务实例
func NewFolderService(
	folderRepo repositories.FolderRepository,
	fileRepo repositories.FileRepository,
	fileSvc FileService,
	tm TransactionManager,
) FolderService {
	return &folderService{
		folderRepo: folderRepo,
		fileRepo:   fileRepo,
		fileSvc:    fileSvc,
		tm:         tm,
	}
}

func (s *folderService) EnsureRoot(ctx context.Context, userID uint64) (*models.Folder, error) {
	root, err := s.folderRepo.FindByPositionAbsolute(userID, "/")
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, xerr.ErrFolderNotFound) {
		return nil, err
	}

	root = &models.Folder{
		OwnerID:          userID,
		Name:             "/",
		ParentID:         0,
		Position:         "/",
		PositionAbsolute: "/",
	}
	createErr := s.folderRepo.Create(nil, root)
	if errors.Is(createErr, xerr.ErrNameConflict) {
		// 并发初启，读已有的
		return s.folderRepo.FindByPositionAbsolute(userID, "/")
	}
	if createErr != nil {
		return nil, createErr
	}
	return root, nil
}

func (s *folderService) Create(ctx context.Context, userID uint64, dir, name string) (*models.Folder, error) {
	if !utils.IsLegalName(name) {
		return nil, xerr.ErrInvalidName
	}

	parent, err := s.folderRepo.FindByPositionAbsolute(userID, dir)
	if err != nil {
		return nil, err
	}

	position := parent.PositionAbsolute
	folder := &models.Folder{
		OwnerID:          userID,
		Name:             name,
		ParentID:         parent.ID,
		Position:         position,
		PositionAbsolute: models.JoinPath(position, name),
	}

	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		// 同名文件也算冲突，目录与文件共享一个命名空间
		if _, err := s.fileRepo.FindByPath(userID, position, name); err == nil {
			return xerr.ErrNameConflict
		} else if !errors.Is(err, xerr.ErrFileNotFound) {
			return err
		}
		return s.folderRepo.Create(tx, folder)
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

func (s *folderService) Rename(ctx context.Context, userID uint64, logicalPath, newName string) (*models.Folder, error) {
	if !utils.IsLegalName(newName) {
		return nil, xerr.ErrInvalidName
	}

	folder, err := s.folderRepo.FindByPositionAbsolute(userID, logicalPath)
	if err != nil {
		return nil, err
	}
	if folder.IsRoot() {
		return nil, xerr.ErrInvalidName
	}
	if folder.Name == newName {
		return folder, nil
	}

	oldPrefix := folder.PositionAbsolute
	newPrefix := models.JoinPath(folder.Position, newName)

	err = s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := s.folderRepo.FindByPositionAbsolute(userID, newPrefix); err == nil {
			return xerr.ErrNameConflict
		} else if !errors.Is(err, xerr.ErrFolderNotFound) {
			return err
		}
		if _, err := s.fileRepo.FindByPath(userID, folder.Position, newName); err == nil {
			return xerr.ErrNameConflict
		} else if !errors.Is(err, xerr.ErrFileNotFound) {
			return err
		}

		folder.Name = newName
		folder.PositionAbsolute = newPrefix
		if err := s.folderRepo.Update(tx, folder); err != nil {
			return err
		}
		if err := s.folderRepo.RewritePositionPrefix(tx, userID, oldPrefix, newPrefix); err != nil {
			return err
		}
		return s.fileRepo.UpdateDirInBatch(tx, userID, oldPrefix, newPrefix)
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// deletionPlan 递归删除前收集的完整清单，自底向上逐层删除
type deletionPlan struct {
	folders []models.Folder // 目录，按路径深度降序
	files   []models.File
}

func (s *folderService) collectPlan(userID uint64, root *models.Folder) (*deletionPlan, error) {
	folders, err := s.folderRepo.ListByPositionPrefix(userID, root.PositionAbsolute)
	if err != nil {
		return nil, err
	}
	files, err := s.fileRepo.ListByDirPrefix(userID, root.PositionAbsolute)
	if err != nil {
		return nil, err
	}

	// ListByPositionPrefix 按路径升序返回，倒序即自底向上
	reversed := make([]models.Folder, 0, len(folders))
	for i := len(folders) - 1; i >= 0; i-- {
		reversed = append(reversed, folders[i])
	}
	return &deletionPlan{folders: reversed, files: files}, nil
}

func (s *folderService) DeleteRecursive(ctx context.Context, userID uint64, logicalPath string) error {
	folder, err := s.folderRepo.FindByPositionAbsolute(userID, logicalPath)
	if err != nil {
		return err
	}
	if folder.IsRoot() {
		return xerr.ErrInvalidName
	}

	plan, err := s.collectPlan(userID, folder)
	if err != nil {
		return err
	}

	logger.Info("递归删除目录",
		zap.Uint64("user_id", userID),
		zap.String("path", logicalPath),
		zap.Int("folders", len(plan.folders)),
		zap.Int("files", len(plan.files)))

	// 先清文件（含后端对象与配额归还），再删目录行
	if len(plan.files) > 0 {
		if err := s.fileSvc.DeleteFileRecords(ctx, userID, plan.files); err != nil {
			return err
		}
	}

	ids := make([]uint64, 0, len(plan.folders))
	for _, f := range plan.folders {
		ids = append(ids, f.ID)
	}
	return s.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return s.folderRepo.DeleteByIDs(tx, ids)
	})
}
