package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/mq"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/luokaiyi/go-cloudvault/internal/services/explorer"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// UploadWorker 消费异步上传任务队列，把临时文件搬运到目标后端
type UploadWorker struct {
	mqClient  *mq.RabbitMQClient
	taskRepo  repositories.TaskRepository
	uploadSvc explorer.UploadService
	cfg       *config.Config
}

func NewUploadWorker(
	mqClient *mq.RabbitMQClient,
	taskRepo repositories.TaskRepository,
	uploadSvc explorer.UploadService,
	cfg *config.Config,
) *UploadWorker {
	return &UploadWorker{
		mqClient:  mqClient,
		taskRepo:  taskRepo,
		uploadSvc: uploadSvc,
		cfg:       cfg,
	}
}

func (w *UploadWorker) Start() {
	_, err := w.mqClient.DeclareQueue(mq.UploadTaskQueueName)
	if err != nil {
		log.Fatalf("Failed to declare queue: %s", err)
	}
	if err := w.mqClient.Consume(mq.UploadTaskQueueName, w.HandleUploadTask); err != nil {
		log.Fatalf("Failed to start consuming from queue: %s", err)
	}

	log.Println("Upload worker started...")
}

func (w *UploadWorker) HandleUploadTask(msg amqp.Delivery) {
	var m explorer.UploadTaskMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		logger.Error("Failed to unmarshal upload task message", zap.Error(err))
		_ = msg.Nack(false, false) // 解析失败,直接抛弃
		return
	}

	logger.Info("Received upload task", zap.Uint64("TaskID", m.TaskID))

	task, err := w.taskRepo.FindByID(m.TaskID)
	if err != nil {
		if errors.Is(err, xerr.ErrTaskNotFound) {
			// 任务记录已不在，重投也无意义
			_ = msg.Nack(false, false)
			return
		}
		_ = msg.Nack(false, true)
		return
	}

	ctx := context.Background()
	lastAttempt := task.Retries >= w.cfg.Upload.TaskRetryLimit
	if err := w.uploadSvc.ExecuteTask(ctx, task, lastAttempt); err != nil {
		logger.Error("Upload task execution failed",
			zap.Uint64("TaskID", task.ID), zap.Int("retries", task.Retries), zap.Error(err))

		if lastAttempt {
			// ExecuteTask 已完成补偿和状态落库
			_ = msg.Nack(false, false)
			return
		}
		_ = w.taskRepo.IncrementRetries(task.ID)
		_ = msg.Nack(false, true)
		return
	}

	logger.Info("Upload task completed", zap.Uint64("TaskID", task.ID))
	_ = msg.Ack(false)
}
