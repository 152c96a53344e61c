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

// FolderRepository 定义目录数据访问层接口
type FolderRepository interface {
	Create(tx *gorm.DB, folder *models.Folder) error

	FindByID(ownerID, id uint64) (*models.Folder, error)
	FindByPositionAbsolute(ownerID uint64, positionAbsolute string) (*models.Folder, error)
	ListChildren(ownerID, parentID uint64) ([]models.Folder, error)
	ListByPositionPrefix(ownerID uint64, prefix string) ([]models.Folder, error)

	Update(tx *gorm.DB, folder *models.Folder) error
	// RewritePositionPrefix 目录改名时批量重写子目录的路径前缀
	RewritePositionPrefix(tx *gorm.DB, ownerID uint64, oldPrefix, newPrefix string) error
	DeleteByIDs(tx *gorm.DB, ids []uint64) error
}

type folderRepository struct {
	db *gorm.DB
}

var _ FolderRepository = (*folderRepository)(nil)

// NewFolderRepository 创建一个新的 FolderRepository 实例
func NewFolderRepository(db *gorm.DB) FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *folderRepository) Create(tx *gorm.DB, folder *models.Folder) error {
	err := r.conn(tx).Create(folder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.ErrNameConflict
		}
		logger.Error("Create: 创建目录失败",
			zap.Uint64("owner_id", folder.OwnerID), zap.String("name", folder.Name), zap.Error(err))
		return fmt.Errorf("failed to create folder: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *folderRepository) FindByID(ownerID, id uint64) (*models.Folder, error) {
	var folder models.Folder
	err := r.db.Where("id = ? AND owner_id = ?", id, ownerID).First(&folder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFolderNotFound
		}
		logger.Error("FindByID: 查询目录失败", zap.Uint64("folder_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to find folder: %w", xerr.ErrDatabaseError)
	}
	return &folder, nil
}

func (r *folderRepository) FindByPositionAbsolute(ownerID uint64, positionAbsolute string) (*models.Folder, error) {
	var folder models.Folder
	err := r.db.Where("owner_id = ? AND position_absolute = ?", ownerID, positionAbsolute).
		First(&folder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFolderNotFound
		}
		logger.Error("FindByPositionAbsolute: 查询目录失败",
			zap.Uint64("owner_id", ownerID), zap.String("position", positionAbsolute), zap.Error(err))
		return nil, fmt.Errorf("failed to find folder: %w", xerr.ErrDatabaseError)
	}
	return &folder, nil
}

func (r *folderRepository) ListChildren(ownerID, parentID uint64) ([]models.Folder, error) {
	var folders []models.Folder
	err := r.db.Where("owner_id = ? AND parent_id = ?", ownerID, parentID).
		Order("name ASC").Find(&folders).Error
	if err != nil {
		logger.Error("ListChildren: 查询子目录失败",
			zap.Uint64("owner_id", ownerID), zap.Uint64("parent_id", parentID), zap.Error(err))
		return nil, fmt.Errorf("failed to list folders: %w", xerr.ErrDatabaseError)
	}
	return folders, nil
}

// ListByPositionPrefix 返回绝对路径位于前缀之下的所有目录（含前缀自身）
func (r *folderRepository) ListByPositionPrefix(ownerID uint64, prefix string) ([]models.Folder, error) {
	var folders []models.Folder
	err := r.db.Where("owner_id = ? AND (position_absolute = ? OR position_absolute LIKE ?)",
		ownerID, prefix, likePrefix(prefix)).
		Order("position_absolute ASC").Find(&folders).Error
	if err != nil {
		logger.Error("ListByPositionPrefix: 查询目录树失败",
			zap.Uint64("owner_id", ownerID), zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("failed to list folder tree: %w", xerr.ErrDatabaseError)
	}
	return folders, nil
}

func (r *folderRepository) Update(tx *gorm.DB, folder *models.Folder) error {
	err := r.conn(tx).Save(folder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.ErrNameConflict
		}
		logger.Error("Update: 更新目录失败", zap.Uint64("folder_id", folder.ID), zap.Error(err))
		return fmt.Errorf("failed to update folder: %w", xerr.ErrDatabaseError)
	}
	return nil
}

// RewritePositionPrefix 同时重写 position 与 position_absolute 两列
// 只处理严格后代，被改名的目录行自身由调用方更新；两者必须同处一个事务
func (r *folderRepository) RewritePositionPrefix(tx *gorm.DB, ownerID uint64, oldPrefix, newPrefix string) error {
	conn := r.conn(tx).Model(&models.Folder{}).
		Where("owner_id = ? AND position_absolute LIKE ?", ownerID, likePrefix(oldPrefix))
	err := conn.Updates(map[string]any{
		"position":          gorm.Expr("CONCAT(?, SUBSTRING(position, ?))", newPrefix, len(oldPrefix)+1),
		"position_absolute": gorm.Expr("CONCAT(?, SUBSTRING(position_absolute, ?))", newPrefix, len(oldPrefix)+1),
	}).Error
	if err != nil {
		logger.Error("RewritePositionPrefix: 批量重写目录前缀失败",
			zap.Uint64("owner_id", ownerID),
			zap.String("old", oldPrefix), zap.String("new", newPrefix), zap.Error(err))
		return fmt.Errorf("failed to rewrite folder prefix: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *folderRepository) DeleteByIDs(tx *gorm.DB, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.conn(tx).Where("id IN ?", ids).Delete(&models.Folder{}).Error
	if err != nil {
		logger.Error("DeleteByIDs: 批量删除目录失败", zap.Int("count", len(ids)), zap.Error(err))
		return fmt.Errorf("failed to delete folders: %w", xerr.ErrDatabaseError)
	}
	return nil
}
