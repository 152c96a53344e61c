package repositories

import (
	"errors"
	"fmt"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileRepository 定义文件数据访问层接口
// (user_id, dir, name) 唯一冲突统一转译为 ErrNameConflict
type FileRepository interface {
	Create(tx *gorm.DB, file *models.File) error

	FindByID(id uint64) (*models.File, error)
	FindByUserIDAndID(userID, id uint64) (*models.File, error)
	FindByPath(userID uint64, dir, name string) (*models.File, error)
	FindByIDs(userID uint64, ids []uint64) ([]models.File, error)
	ListByFolderID(userID, folderID uint64) ([]models.File, error)
	ListByDirPrefix(userID uint64, prefix string) ([]models.File, error)
	SearchByName(userID uint64, keyword string) ([]models.File, error)

	Update(tx *gorm.DB, file *models.File) error
	UpdateDirInBatch(tx *gorm.DB, userID uint64, oldPrefix, newPrefix string) error
	DeleteByIDs(tx *gorm.DB, ids []uint64) error
}

type fileRepository struct {
	db *gorm.DB
}

var _ FileRepository = (*fileRepository)(nil)

// NewFileRepository 创建一个新的 FileRepository 实例
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *fileRepository) Create(tx *gorm.DB, file *models.File) error {
	err := r.conn(tx).Create(file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.ErrNameConflict
		}
		logger.Error("Create: 创建文件记录失败",
			zap.Uint64("user_id", file.UserID), zap.String("name", file.Name), zap.Error(err))
		return fmt.Errorf("failed to create file: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *fileRepository) FindByID(id uint64) (*models.File, error) {
	var file models.File
	err := r.db.First(&file, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("FindByID: 查询文件失败", zap.Uint64("file_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to find file: %w", xerr.ErrDatabaseError)
	}
	return &file, nil
}

func (r *fileRepository) FindByUserIDAndID(userID, id uint64) (*models.File, error) {
	var file models.File
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("FindByUserIDAndID: 查询文件失败",
			zap.Uint64("user_id", userID), zap.Uint64("file_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to find file: %w", xerr.ErrDatabaseError)
	}
	return &file, nil
}

func (r *fileRepository) FindByPath(userID uint64, dir, name string) (*models.File, error) {
	var file models.File
	err := r.db.Where("user_id = ? AND dir = ? AND name = ?", userID, dir, name).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		logger.Error("FindByPath: 查询文件失败",
			zap.Uint64("user_id", userID), zap.String("dir", dir), zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to find file: %w", xerr.ErrDatabaseError)
	}
	return &file, nil
}

func (r *fileRepository) FindByIDs(userID uint64, ids []uint64) ([]models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []models.File
	err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Find(&files).Error
	if err != nil {
		logger.Error("FindByIDs: 批量查询文件失败", zap.Uint64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to find files: %w", xerr.ErrDatabaseError)
	}
	return files, nil
}

func (r *fileRepository) ListByFolderID(userID, folderID uint64) ([]models.File, error) {
	var files []models.File
	err := r.db.Where("user_id = ? AND folder_id = ?", userID, folderID).
		Order("name ASC").Find(&files).Error
	if err != nil {
		logger.Error("ListByFolderID: 查询目录下文件失败",
			zap.Uint64("user_id", userID), zap.Uint64("folder_id", folderID), zap.Error(err))
		return nil, fmt.Errorf("failed to list files: %w", xerr.ErrDatabaseError)
	}
	return files, nil
}

// ListByDirPrefix 返回逻辑目录前缀下的所有文件，用于目录删除与级联改名
func (r *fileRepository) ListByDirPrefix(userID uint64, prefix string) ([]models.File, error) {
	var files []models.File
	err := r.db.Where("user_id = ? AND (dir = ? OR dir LIKE ?)", userID, prefix, likePrefix(prefix)).
		Find(&files).Error
	if err != nil {
		logger.Error("ListByDirPrefix: 查询目录树下文件失败",
			zap.Uint64("user_id", userID), zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("failed to list files: %w", xerr.ErrDatabaseError)
	}
	return files, nil
}

// SearchByName 文件名模糊搜索，直接走关系库，不引入独立搜索引擎
func (r *fileRepository) SearchByName(userID uint64, keyword string) ([]models.File, error) {
	var files []models.File
	err := r.db.Where("user_id = ? AND name LIKE ?", userID, "%"+escapeLike(keyword)+"%").
		Order("updated_at DESC").Limit(200).Find(&files).Error
	if err != nil {
		logger.Error("SearchByName: 文件名搜索失败", zap.Uint64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to search files: %w", xerr.ErrDatabaseError)
	}
	return files, nil
}

func (r *fileRepository) Update(tx *gorm.DB, file *models.File) error {
	err := r.conn(tx).Save(file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.ErrNameConflict
		}
		logger.Error("Update: 更新文件记录失败", zap.Uint64("file_id", file.ID), zap.Error(err))
		return fmt.Errorf("failed to update file: %w", xerr.ErrDatabaseError)
	}
	return nil
}

// UpdateDirInBatch 目录改名/移动时批量重写子文件的逻辑目录前缀
// 必须与目录行的改名同处一个事务
func (r *fileRepository) UpdateDirInBatch(tx *gorm.DB, userID uint64, oldPrefix, newPrefix string) error {
	err := r.conn(tx).Model(&models.File{}).
		Where("user_id = ? AND (dir = ? OR dir LIKE ?)", userID, oldPrefix, likePrefix(oldPrefix)).
		Update("dir", gorm.Expr("CONCAT(?, SUBSTRING(dir, ?))", newPrefix, len(oldPrefix)+1)).Error
	if err != nil {
		logger.Error("UpdateDirInBatch: 批量重写目录前缀失败",
			zap.Uint64("user_id", userID),
			zap.String("old", oldPrefix), zap.String("new", newPrefix), zap.Error(err))
		return fmt.Errorf("failed to rewrite dir prefix: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *fileRepository) DeleteByIDs(tx *gorm.DB, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.conn(tx).Where("id IN ?", ids).Delete(&models.File{}).Error
	if err != nil {
		logger.Error("DeleteByIDs: 批量删除文件记录失败", zap.Int("count", len(ids)), zap.Error(err))
		return fmt.Errorf("failed to delete files: %w", xerr.ErrDatabaseError)
	}
	return nil
}

// likePrefix 拼出匹配子目录的 LIKE 模式，"/a" -> "/a/%"
func likePrefix(prefix string) string {
	if prefix == "/" {
		return "/%"
	}
	return escapeLike(prefix) + "/%"
}

// escapeLike 转义 LIKE 元字符，避免用户输入当模式解释
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
