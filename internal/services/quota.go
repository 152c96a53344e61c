package services

import (
	"fmt"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QuotaService 维护用户空间使用量的守恒记账
// 任何写入字节的路径先 Check 后 Commit，删除或失败补偿走 Release
type QuotaService interface {
	// TotalQuota 基础配额加当前生效的容量包
	TotalQuota(userID uint64) (uint64, error)
	// Check 校验申请 size 字节后是否仍在配额内，不占位
	Check(userID uint64, size uint64) error
	// Commit 登记 size 字节的占用，tx 为 nil 时独立提交
	Commit(tx *gorm.DB, userID uint64, size uint64) error
	// Release 归还 size 字节的占用，下钳到 0
	Release(tx *gorm.DB, userID uint64, size uint64) error
}

type quotaService struct {
	userRepo repositories.UserRepository
}

var _ QuotaService = (*quotaService)(nil)

// NewQuotaService 创建配额服务实例
func NewQuotaService(userRepo repositories.UserRepository) QuotaService {
	return &quotaService{userRepo: userRepo}
}

func (s *quotaService) TotalQuota(userID uint64) (uint64, error) {
	user, err := s.userRepo.GetUserByID(userID)
	if err != nil {
		return 0, err
	}

	var base uint64
	if user.Group != nil {
		base = user.Group.MaxStorage
	} else {
		group, err := s.userRepo.GetGroupByID(user.GroupID)
		if err != nil {
			return 0, err
		}
		base = group.MaxStorage
	}

	packs, err := s.userRepo.GetActivePacks(userID, time.Now())
	if err != nil {
		return 0, err
	}
	packTotal := lo.SumBy(packs, func(p models.StoragePack) uint64 { return p.Size })

	return base + packTotal, nil
}

func (s *quotaService) Check(userID uint64, size uint64) error {
	total, err := s.TotalQuota(userID)
	if err != nil {
		return err
	}
	user, err := s.userRepo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.Storage+size > total {
		logger.Info("配额不足",
			zap.Uint64("user_id", userID),
			zap.Uint64("used", user.Storage),
			zap.Uint64("requested", size),
			zap.Uint64("total", total))
		return fmt.Errorf("need %d bytes, %d of %d used: %w", size, user.Storage, total, xerr.ErrQuotaExceeded)
	}
	return nil
}

func (s *quotaService) Commit(tx *gorm.DB, userID uint64, size uint64) error {
	return s.userRepo.IncreaseStorage(tx, userID, size)
}

func (s *quotaService) Release(tx *gorm.DB, userID uint64, size uint64) error {
	return s.userRepo.DeductStorage(tx, userID, size)
}
