package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserRepository 定义用户数据访问层接口
// Storage 列只能通过原子增减修改，禁止读-改-写
type UserRepository interface {
	GetUserByID(id uint64) (*models.User, error)
	GetGroupByID(id uint64) (*models.Group, error)
	GetActivePacks(userID uint64, now time.Time) ([]models.StoragePack, error)

	// IncreaseStorage 原子增加已用空间，tx 为 nil 时走默认连接
	IncreaseStorage(tx *gorm.DB, userID uint64, size uint64) error
	// DeductStorage 原子减少已用空间，下钳到 0
	DeductStorage(tx *gorm.DB, userID uint64, size uint64) error
}

type userRepository struct {
	db *gorm.DB
}

var _ UserRepository = (*userRepository)(nil)

// NewUserRepository 创建一个新的 UserRepository 实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetUserByID(id uint64) (*models.User, error) {
	var user models.User
	err := r.db.Preload("Group").First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrUserNotFound
		}
		logger.Error("GetUserByID: 查询用户失败", zap.Uint64("user_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", xerr.ErrDatabaseError)
	}
	return &user, nil
}

func (r *userRepository) GetGroupByID(id uint64) (*models.Group, error) {
	var group models.Group
	err := r.db.First(&group, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrUserNotFound
		}
		logger.Error("GetGroupByID: 查询用户组失败", zap.Uint64("group_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get group: %w", xerr.ErrDatabaseError)
	}
	return &group, nil
}

// GetActivePacks 返回当前生效的容量包，未设过期时间视为永久
func (r *userRepository) GetActivePacks(userID uint64, now time.Time) ([]models.StoragePack, error) {
	var packs []models.StoragePack
	err := r.db.Where("user_id = ? AND (expired_at IS NULL OR expired_at > ?)", userID, now).
		Find(&packs).Error
	if err != nil {
		logger.Error("GetActivePacks: 查询容量包失败", zap.Uint64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list storage packs: %w", xerr.ErrDatabaseError)
	}
	return packs, nil
}

func (r *userRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userRepository) IncreaseStorage(tx *gorm.DB, userID uint64, size uint64) error {
	if size == 0 {
		return nil
	}
	res := r.conn(tx).Model(&models.User{}).Where("id = ?", userID).
		Update("storage", gorm.Expr("storage + ?", size))
	if res.Error != nil {
		logger.Error("IncreaseStorage: 增加已用空间失败",
			zap.Uint64("user_id", userID), zap.Uint64("size", size), zap.Error(res.Error))
		return fmt.Errorf("failed to increase storage: %w", xerr.ErrDatabaseError)
	}
	if res.RowsAffected == 0 {
		return xerr.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) DeductStorage(tx *gorm.DB, userID uint64, size uint64) error {
	if size == 0 {
		return nil
	}
	// 无符号列防回绕，余额不足时清零而不是报错
	res := r.conn(tx).Model(&models.User{}).Where("id = ?", userID).
		Update("storage", gorm.Expr("IF(storage >= ?, storage - ?, 0)", size, size))
	if res.Error != nil {
		logger.Error("DeductStorage: 归还已用空间失败",
			zap.Uint64("user_id", userID), zap.Uint64("size", size), zap.Error(res.Error))
		return fmt.Errorf("failed to deduct storage: %w", xerr.ErrDatabaseError)
	}
	// 钳到 0 时行值可能不变，MySQL 汇报的是 changed rows，这里不校验行数
	return nil
}
