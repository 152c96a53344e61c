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

// TicketRepository 定义回调凭证数据访问层接口
// 凭证一次性：消费即删除，重复消费返回 ErrTicketNotFound
type TicketRepository interface {
	Create(ticket *models.CallbackTicket) error
	// GetByKey 只读不消费，回调方签名校验通过后再 Consume
	GetByKey(key string) (*models.CallbackTicket, error)
	Consume(key string) (*models.CallbackTicket, error)
	DeleteExpired(before time.Time) (int64, error)
}

type ticketRepository struct {
	db *gorm.DB
}

var _ TicketRepository = (*ticketRepository)(nil)

// NewTicketRepository 创建一个新的 TicketRepository 实例
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ticket *models.CallbackTicket) error {
	if err := r.db.Create(ticket).Error; err != nil {
		logger.Error("Create: 创建回调凭证失败", zap.String("key", ticket.Key), zap.Error(err))
		return fmt.Errorf("failed to create callback ticket: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *ticketRepository) GetByKey(key string) (*models.CallbackTicket, error) {
	var ticket models.CallbackTicket
	err := r.db.Where("ticket_key = ?", key).First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrTicketNotFound
		}
		logger.Error("GetByKey: 查询回调凭证失败", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to load callback ticket: %w", xerr.ErrDatabaseError)
	}
	return &ticket, nil
}

// Consume 原子消费凭证：按主键删除并校验行数，并发重放只有一方成功
func (r *ticketRepository) Consume(key string) (*models.CallbackTicket, error) {
	var ticket models.CallbackTicket
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ticket_key = ?", key).First(&ticket).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerr.ErrTicketNotFound
			}
			return fmt.Errorf("failed to load callback ticket: %w", xerr.ErrDatabaseError)
		}
		res := tx.Where("id = ?", ticket.ID).Delete(&models.CallbackTicket{})
		if res.Error != nil {
			return fmt.Errorf("failed to consume callback ticket: %w", xerr.ErrDatabaseError)
		}
		if res.RowsAffected == 0 {
			return xerr.ErrTicketNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, xerr.ErrTicketNotFound) {
			logger.Error("Consume: 消费回调凭证失败", zap.String("key", key), zap.Error(err))
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) DeleteExpired(before time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", before).Delete(&models.CallbackTicket{})
	if res.Error != nil {
		logger.Error("DeleteExpired: 清理过期回调凭证失败", zap.Error(res.Error))
		return 0, fmt.Errorf("failed to delete expired tickets: %w", xerr.ErrDatabaseError)
	}
	return res.RowsAffected, nil
}
