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

// PolicyRepository 定义存储策略数据访问层接口
// 请求侧总是读最新行，令牌等后端状态由刷新任务写入
type PolicyRepository interface {
	Create(policy *models.Policy) error
	GetByID(id uint64) (*models.Policy, error)
	GetAll() ([]models.Policy, error)
	Update(policy *models.Policy) error
	UpdateToken(id uint64, accessToken, refreshToken string, expiresAt *time.Time) error
	Delete(id uint64) error
}

type policyRepository struct {
	db *gorm.DB
}

var _ PolicyRepository = (*policyRepository)(nil)

// NewPolicyRepository 创建一个新的 PolicyRepository 实例
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) Create(policy *models.Policy) error {
	if err := r.db.Create(policy).Error; err != nil {
		logger.Error("Create: 创建存储策略失败", zap.String("name", policy.Name), zap.Error(err))
		return fmt.Errorf("failed to create policy: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *policyRepository) GetByID(id uint64) (*models.Policy, error) {
	var policy models.Policy
	err := r.db.First(&policy, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrPolicyNotFound
		}
		logger.Error("GetByID: 查询存储策略失败", zap.Uint64("policy_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get policy: %w", xerr.ErrDatabaseError)
	}
	return &policy, nil
}

func (r *policyRepository) GetAll() ([]models.Policy, error) {
	var policies []models.Policy
	if err := r.db.Find(&policies).Error; err != nil {
		logger.Error("GetAll: 查询存储策略列表失败", zap.Error(err))
		return nil, fmt.Errorf("failed to list policies: %w", xerr.ErrDatabaseError)
	}
	return policies, nil
}

func (r *policyRepository) Update(policy *models.Policy) error {
	if err := r.db.Save(policy).Error; err != nil {
		logger.Error("Update: 更新存储策略失败", zap.Uint64("policy_id", policy.ID), zap.Error(err))
		return fmt.Errorf("failed to update policy: %w", xerr.ErrDatabaseError)
	}
	return nil
}

// UpdateToken 仅写入后端认证状态列，不触碰其他字段
func (r *policyRepository) UpdateToken(id uint64, accessToken, refreshToken string, expiresAt *time.Time) error {
	err := r.db.Model(&models.Policy{}).Where("id = ?", id).Updates(map[string]any{
		"access_token":     accessToken,
		"refresh_token":    refreshToken,
		"token_expires_at": expiresAt,
	}).Error
	if err != nil {
		logger.Error("UpdateToken: 更新策略令牌失败", zap.Uint64("policy_id", id), zap.Error(err))
		return fmt.Errorf("failed to update policy token: %w", xerr.ErrDatabaseError)
	}
	return nil
}

// Delete 删除策略，仍被文件或用户组引用时拒绝
func (r *policyRepository) Delete(id uint64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var fileCount int64
		if err := tx.Model(&models.File{}).Where("policy_id = ?", id).Count(&fileCount).Error; err != nil {
			return fmt.Errorf("failed to count policy references: %w", xerr.ErrDatabaseError)
		}
		var groupCount int64
		if err := tx.Model(&models.Group{}).Where("policy_id = ?", id).Count(&groupCount).Error; err != nil {
			return fmt.Errorf("failed to count policy references: %w", xerr.ErrDatabaseError)
		}
		if fileCount > 0 || groupCount > 0 {
			return xerr.ErrPolicyInUse
		}

		res := tx.Delete(&models.Policy{}, id)
		if res.Error != nil {
			logger.Error("Delete: 删除存储策略失败", zap.Uint64("policy_id", id), zap.Error(res.Error))
			return fmt.Errorf("failed to delete policy: %w", xerr.ErrDatabaseError)
		}
		if res.RowsAffected == 0 {
			return xerr.ErrPolicyNotFound
		}
		return nil
	})
}
