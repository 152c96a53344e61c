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

// ChunkRepository 定义分片数据访问层接口
type ChunkRepository interface {
	// Create 插入分片记录，同会话同序号已存在时返回 xerr.ErrChunkExists
	Create(tx *gorm.DB, chunk *models.Chunk) error
	// FindByCtxIndex 取会话内指定序号的分片，重传结算差额时用
	FindByCtxIndex(userID uint64, ctx string, index int) (*models.Chunk, error)
	UpdateSize(tx *gorm.DB, id uint64, size uint64) error
	ListByCtx(userID uint64, ctx string) ([]models.Chunk, error)
	CountByCtx(userID uint64, ctx string) (int64, error)
	// SumSizeByCtx 会话内全部分片的大小合计，配额归还按这个数
	SumSizeByCtx(userID uint64, ctx string) (uint64, error)
	DeleteByCtx(tx *gorm.DB, userID uint64, ctx string) error

	// ListExpiredCtxs 返回早于截止时间就开始、至今未完成的会话令牌
	ListExpiredCtxs(before time.Time) ([]string, error)
	ListByCtxAny(ctx string) ([]models.Chunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

var _ ChunkRepository = (*chunkRepository)(nil)

// NewChunkRepository 创建一个新的 ChunkRepository 实例
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

func (r *chunkRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *chunkRepository) Create(tx *gorm.DB, chunk *models.Chunk) error {
	err := r.conn(tx).Create(chunk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return xerr.ErrChunkExists
		}
		logger.Error("Create: 保存分片记录失败",
			zap.String("ctx", chunk.Ctx), zap.Int("index", chunk.Index), zap.Error(err))
		return fmt.Errorf("failed to save chunk: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *chunkRepository) FindByCtxIndex(userID uint64, ctx string, index int) (*models.Chunk, error) {
	var chunk models.Chunk
	err := r.db.Where("user_id = ? AND ctx = ? AND `index` = ?", userID, ctx, index).
		First(&chunk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrChunkMissing
		}
		logger.Error("FindByCtxIndex: 查询分片失败",
			zap.String("ctx", ctx), zap.Int("index", index), zap.Error(err))
		return nil, fmt.Errorf("failed to find chunk: %w", xerr.ErrDatabaseError)
	}
	return &chunk, nil
}

func (r *chunkRepository) UpdateSize(tx *gorm.DB, id uint64, size uint64) error {
	err := r.conn(tx).Model(&models.Chunk{}).Where("id = ?", id).
		Update("size", size).Error
	if err != nil {
		logger.Error("UpdateSize: 更新分片大小失败", zap.Uint64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update chunk size: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *chunkRepository) ListByCtx(userID uint64, ctx string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := r.db.Where("user_id = ? AND ctx = ?", userID, ctx).
		Order("`index` ASC").Find(&chunks).Error
	if err != nil {
		logger.Error("ListByCtx: 查询会话分片失败", zap.String("ctx", ctx), zap.Error(err))
		return nil, fmt.Errorf("failed to list chunks: %w", xerr.ErrDatabaseError)
	}
	return chunks, nil
}

func (r *chunkRepository) CountByCtx(userID uint64, ctx string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Chunk{}).Where("user_id = ? AND ctx = ?", userID, ctx).
		Count(&count).Error
	if err != nil {
		logger.Error("CountByCtx: 统计会话分片失败", zap.String("ctx", ctx), zap.Error(err))
		return 0, fmt.Errorf("failed to count chunks: %w", xerr.ErrDatabaseError)
	}
	return count, nil
}

func (r *chunkRepository) SumSizeByCtx(userID uint64, ctx string) (uint64, error) {
	var total struct {
		Total uint64
	}
	err := r.db.Model(&models.Chunk{}).
		Select("COALESCE(SUM(size), 0) AS total").
		Where("user_id = ? AND ctx = ?", userID, ctx).
		Scan(&total).Error
	if err != nil {
		logger.Error("SumSizeByCtx: 合计会话分片大小失败", zap.String("ctx", ctx), zap.Error(err))
		return 0, fmt.Errorf("failed to sum chunk sizes: %w", xerr.ErrDatabaseError)
	}
	return total.Total, nil
}

func (r *chunkRepository) DeleteByCtx(tx *gorm.DB, userID uint64, ctx string) error {
	err := r.conn(tx).Unscoped().Where("user_id = ? AND ctx = ?", userID, ctx).
		Delete(&models.Chunk{}).Error
	if err != nil {
		logger.Error("DeleteByCtx: 删除会话分片失败", zap.String("ctx", ctx), zap.Error(err))
		return fmt.Errorf("failed to delete chunks: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *chunkRepository) ListExpiredCtxs(before time.Time) ([]string, error) {
	var ctxs []string
	err := r.db.Model(&models.Chunk{}).
		Distinct("ctx").
		Where("created_at < ?", before).
		Pluck("ctx", &ctxs).Error
	if err != nil {
		logger.Error("ListExpiredCtxs: 查询过期会话失败", zap.Error(err))
		return nil, fmt.Errorf("failed to list expired chunk sessions: %w", xerr.ErrDatabaseError)
	}
	return ctxs, nil
}

// ListByCtxAny 不限定用户地取会话分片，清理任务使用
func (r *chunkRepository) ListByCtxAny(ctx string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := r.db.Where("ctx = ?", ctx).Order("`index` ASC").Find(&chunks).Error
	if err != nil {
		logger.Error("ListByCtxAny: 查询会话分片失败", zap.String("ctx", ctx), zap.Error(err))
		return nil, fmt.Errorf("failed to list chunks: %w", xerr.ErrDatabaseError)
	}
	return chunks, nil
}
