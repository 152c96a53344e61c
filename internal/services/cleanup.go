package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CleanupService 周期性回收悬挂资源：过期分片会话、过期回调凭证、
// 滞留任务告警，以及 OneDrive 访问令牌续期
type CleanupService interface {
	// Start 注册 cron 任务并启动调度器
	Start() error
	// Stop 停止调度器，等待在途任务结束
	Stop()
	// SweepChunks 清理超过保留时长仍未完成的分片会话并归还配额
	SweepChunks(ctx context.Context) error
	// SweepTickets 删除过期回调凭证
	SweepTickets(ctx context.Context) error
	// ReportStaleTasks 对长期停留在待处理状态的任务打告警日志
	ReportStaleTasks(ctx context.Context) error
	// RefreshTokens 刷新临近过期的 OneDrive 策略令牌
	RefreshTokens(ctx context.Context) error
}

type cleanupService struct {
	chunkRepo  repositories.ChunkRepository
	ticketRepo repositories.TicketRepository
	taskRepo   repositories.TaskRepository
	policyRepo repositories.PolicyRepository
	quota      QuotaService
	deps       storage.Deps
	cfg        *config.Config
	cron       *cron.Cron
}

var _ CleanupService = (*cleanupService)(nil)

// NewCleanupService 创建清理服务实例
func NewCleanupService(
	chunkRepo repositories.ChunkRepository,
	ticketRepo repositories.TicketRepository,
	taskRepo repositories.TaskRepository,
	policyRepo repositories.PolicyRepository,
	quota QuotaService,
	deps storage.Deps,
	cfg *config.Config,
) CleanupService {
	return &cleanupService{
		chunkRepo:  chunkRepo,
		ticketRepo: ticketRepo,
		taskRepo:   taskRepo,
		policyRepo: policyRepo,
		quota:      quota,
		deps:       deps,
		cfg:        cfg,
		cron:       cron.New(),
	}
}

func (s *cleanupService) Start() error {
	sweep := func() {
		ctx := context.Background()
		if err := s.SweepChunks(ctx); err != nil {
			logger.Error("周期清理分片会话失败", zap.Error(err))
		}
		if err := s.SweepTickets(ctx); err != nil {
			logger.Error("周期清理回调凭证失败", zap.Error(err))
		}
		if err := s.ReportStaleTasks(ctx); err != nil {
			logger.Error("周期巡检滞留任务失败", zap.Error(err))
		}
	}
	if _, err := s.cron.AddFunc(s.cfg.Cron.SweepSpec, sweep); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Cron.TokenRefreshSpec, func() {
		if err := s.RefreshTokens(context.Background()); err != nil {
			logger.Error("周期刷新存储令牌失败", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register token refresh job: %w", err)
	}

	s.cron.Start()
	logger.Info("清理调度器已启动",
		zap.String("sweep", s.cfg.Cron.SweepSpec),
		zap.String("token_refresh", s.cfg.Cron.TokenRefreshSpec))
	return nil
}

func (s *cleanupService) Stop() {
	<-s.cron.Stop().Done()
}

func (s *cleanupService) SweepChunks(ctx context.Context) error {
	before := time.Now().Add(-s.cfg.Upload.ChunkExpiresIn)
	ctxs, err := s.chunkRepo.ListExpiredCtxs(before)
	if err != nil {
		return err
	}

	for _, token := range ctxs {
		chunks, err := s.chunkRepo.ListByCtxAny(token)
		if err != nil || len(chunks) == 0 {
			continue
		}

		// 归还该会话已预占的配额，再清掉临时文件和记录
		var total uint64
		for _, c := range chunks {
			total += c.Size
			path := filepath.Join(s.cfg.Local.TempPath, c.ObjName)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("删除过期分片文件失败", zap.String("path", path), zap.Error(err))
			}
		}
		userID := chunks[0].UserID
		if err := s.quota.Release(nil, userID, total); err != nil {
			logger.Error("过期会话配额归还失败",
				zap.String("ctx", token), zap.Uint64("user_id", userID), zap.Error(err))
			continue
		}
		if err := s.chunkRepo.DeleteByCtx(nil, userID, token); err != nil {
			continue
		}
		logger.Info("已回收过期分片会话",
			zap.String("ctx", token), zap.Int("chunks", len(chunks)), zap.Uint64("bytes", total))
	}
	return nil
}

func (s *cleanupService) SweepTickets(ctx context.Context) error {
	before := time.Now().Add(-s.cfg.Upload.TicketExpiresIn)
	count, err := s.ticketRepo.DeleteExpired(before)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Info("已清理过期回调凭证", zap.Int64("count", count))
	}
	return nil
}

func (s *cleanupService) ReportStaleTasks(ctx context.Context) error {
	before := time.Now().Add(-s.cfg.Upload.ChunkExpiresIn)
	tasks, err := s.taskRepo.ListStale(before)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		logger.Warn("上传任务长期未被消费，请检查队列消费者",
			zap.Uint64("task_id", task.ID),
			zap.Uint64("user_id", task.UserID),
			zap.Time("created_at", task.CreatedAt))
	}
	return nil
}

// RefreshTokens 只处理 OneDrive 策略：令牌剩余有效期不足调度间隔两倍时续期，
// 避免消费侧拿到临期令牌
func (s *cleanupService) RefreshTokens(ctx context.Context) error {
	policies, err := s.policyRepo.GetAll()
	if err != nil {
		return err
	}

	for i := range policies {
		policy := &policies[i]
		if policy.Type != models.PolicyTypeOneDrive || policy.RefreshToken == "" {
			continue
		}
		if policy.TokenExpiresAt != nil && time.Until(*policy.TokenExpiresAt) > 2*time.Hour {
			continue
		}

		adapter, err := storage.NewAdapter(policy, s.deps)
		if err != nil {
			continue
		}
		od, ok := adapter.(*storage.OneDriveAdapter)
		if !ok {
			continue
		}
		cred, err := od.RefreshAccessToken(ctx)
		if err != nil {
			logger.Error("OneDrive 令牌刷新失败", zap.Uint64("policy_id", policy.ID), zap.Error(err))
			continue
		}
		expires := cred.ExpiresAt
		if err := s.policyRepo.UpdateToken(policy.ID, cred.AccessToken, cred.RefreshToken, &expires); err != nil {
			continue
		}
		logger.Info("OneDrive 令牌已续期",
			zap.Uint64("policy_id", policy.ID), zap.Time("expires_at", expires))
	}
	return nil
}
