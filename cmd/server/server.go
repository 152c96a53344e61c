package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/mq"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/mq/worker"
	"github.com/luokaiyi/go-cloudvault/internal/router"
	"github.com/luokaiyi/go-cloudvault/internal/services"
	"github.com/luokaiyi/go-cloudvault/internal/setup"
	"go.uber.org/zap"
)

// Server 聚合应用的全部长生命周期组件
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	mqClient   *mq.RabbitMQClient
	cleanup    services.CleanupService
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	setup.InitMySQL(&cfg.MySQL)
	setup.InitRedis(cfg)

	mqClient, err := mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}

	routerCfg := router.NewRouterConfig(setup.DB, setup.RedisClientGlobal, mqClient, cfg)
	svcs := router.BuildServices(routerCfg)
	engine := router.InitRouter(routerCfg, svcs)

	// 异步上传任务消费者
	uploadWorker := worker.NewUploadWorker(mqClient, svcs.TaskRepo, svcs.Upload, cfg)
	uploadWorker.Start()

	// 周期清理与令牌续期
	if err := svcs.Cleanup.Start(); err != nil {
		logger.Fatal("Failed to start cleanup scheduler", zap.Error(err))
	}

	return &Server{
		engine:   engine,
		mqClient: mqClient,
		cleanup:  svcs.Cleanup,
		httpServer: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: engine,
		},
	}, nil
}

// Run 阻塞运行 HTTP 服务
func (s *Server) Run() error {
	logger.Info("Server is running", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关机：停收新请求，等在途请求与周期任务结束
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("服务器在优雅关机过程中因错误而被迫停止", zap.Error(err))
	}

	s.cleanup.Stop()
	s.mqClient.Close()
	setup.CloseRedis()
	setup.CloseMySQLDB()
}
