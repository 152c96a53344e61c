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

// TaskRepository 定义异步上传任务数据访问层接口
type TaskRepository interface {
	Create(task *models.UploadTask) error
	FindByID(id uint64) (*models.UploadTask, error)
	MarkSuccess(id uint64) error
	MarkError(id uint64, errMsg string) error
	IncrementRetries(id uint64) error
	// ListStale 返回长期停留在待处理状态的任务，运维告警用
	ListStale(before time.Time) ([]models.UploadTask, error)
}

type taskRepository struct {
	db *gorm.DB
}

var _ TaskRepository = (*taskRepository)(nil)

// NewTaskRepository 创建一个新的 TaskRepository 实例
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(task *models.UploadTask) error {
	if err := r.db.Create(task).Error; err != nil {
		logger.Error("Create: 创建上传任务失败", zap.String("name", task.Name), zap.Error(err))
		return fmt.Errorf("failed to create upload task: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *taskRepository) FindByID(id uint64) (*models.UploadTask, error) {
	var task models.UploadTask
	err := r.db.First(&task, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrTaskNotFound
		}
		logger.Error("FindByID: 查询上传任务失败", zap.Uint64("task_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to find upload task: %w", xerr.ErrDatabaseError)
	}
	return &task, nil
}

func (r *taskRepository) MarkSuccess(id uint64) error {
	err := r.db.Model(&models.UploadTask{}).Where("id = ?", id).
		Update("status", models.TaskStatusSuccess).Error
	if err != nil {
		logger.Error("MarkSuccess: 更新任务状态失败", zap.Uint64("task_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark task success: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *taskRepository) MarkError(id uint64, errMsg string) error {
	err := r.db.Model(&models.UploadTask{}).Where("id = ?", id).Updates(map[string]any{
		"status":  models.TaskStatusError,
		"err_msg": errMsg,
	}).Error
	if err != nil {
		logger.Error("MarkError: 更新任务状态失败", zap.Uint64("task_id", id), zap.Error(err))
		return fmt.Errorf("failed to mark task error: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *taskRepository) IncrementRetries(id uint64) error {
	err := r.db.Model(&models.UploadTask{}).Where("id = ?", id).
		Update("retries", gorm.Expr("retries + 1")).Error
	if err != nil {
		logger.Error("IncrementRetries: 更新任务重试次数失败", zap.Uint64("task_id", id), zap.Error(err))
		return fmt.Errorf("failed to increment task retries: %w", xerr.ErrDatabaseError)
	}
	return nil
}

func (r *taskRepository) ListStale(before time.Time) ([]models.UploadTask, error) {
	var tasks []models.UploadTask
	err := r.db.Where("status = ? AND created_at < ?", models.TaskStatusTodo, before).
		Find(&tasks).Error
	if err != nil {
		logger.Error("ListStale: 查询滞留任务失败", zap.Error(err))
		return nil, fmt.Errorf("failed to list stale tasks: %w", xerr.ErrDatabaseError)
	}
	return tasks, nil
}
