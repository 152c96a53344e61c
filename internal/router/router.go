package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/handlers"
	"github.com/luokaiyi/go-cloudvault/internal/middlewares"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/cache"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/mq"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/repositories"
	"github.com/luokaiyi/go-cloudvault/internal/services"
	"github.com/luokaiyi/go-cloudvault/internal/services/explorer"
	"gorm.io/gorm"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	db          *gorm.DB
	redisClient *redis.Client
	mqClient    *mq.RabbitMQClient
	cfg         *config.Config
}

func NewRouterConfig(db *gorm.DB, redisClient *redis.Client, mqClient *mq.RabbitMQClient, cfg *config.Config) *RouterConfig {
	return &RouterConfig{
		db:          db,
		redisClient: redisClient,
		mqClient:    mqClient,
		cfg:         cfg,
	}
}

// BuildServices 组装服务层，路由和队列工作者共用同一套实例
type Services struct {
	File     explorer.FileService
	Folder   explorer.FolderService
	Upload   explorer.UploadService
	Callback explorer.CallbackService
	Cleanup  services.CleanupService
	Deps     storage.Deps
	TaskRepo repositories.TaskRepository
}

func BuildServices(routerCfg *RouterConfig) *Services {
	cacheService := cache.NewRedisCache(routerCfg.redisClient)
	deps := storage.Deps{
		Config: routerCfg.cfg,
		Cache:  cacheService,
		Auth:   auth.New(routerCfg.cfg.JWT.SecretKey),
		Client: &http.Client{Timeout: 60 * time.Second},
	}

	fileRepo := repositories.NewFileRepository(routerCfg.db)
	folderRepo := repositories.NewFolderRepository(routerCfg.db)
	userRepo := repositories.NewUserRepository(routerCfg.db)
	policyRepo := repositories.NewPolicyRepository(routerCfg.db)
	chunkRepo := repositories.NewChunkRepository(routerCfg.db)
	ticketRepo := repositories.NewTicketRepository(routerCfg.db)
	taskRepo := repositories.NewTaskRepository(routerCfg.db)

	tm := explorer.NewTransactionManager(routerCfg.db)
	quota := services.NewQuotaService(userRepo)

	fileService := explorer.NewFileService(fileRepo, folderRepo, userRepo, policyRepo, quota, tm, deps, routerCfg.cfg)
	folderService := explorer.NewFolderService(folderRepo, fileRepo, fileService, tm)
	uploadService := explorer.NewUploadService(fileRepo, folderRepo, chunkRepo, ticketRepo, taskRepo,
		policyRepo, userRepo, quota, tm, routerCfg.mqClient, deps, routerCfg.cfg)
	callbackService := explorer.NewCallbackService(ticketRepo, policyRepo, uploadService, quota, deps, routerCfg.cfg)
	cleanupService := services.NewCleanupService(chunkRepo, ticketRepo, taskRepo, policyRepo, quota, deps, routerCfg.cfg)

	return &Services{
		File:     fileService,
		Folder:   folderService,
		Upload:   uploadService,
		Callback: callbackService,
		Cleanup:  cleanupService,
		Deps:     deps,
		TaskRepo: taskRepo,
	}
}

func InitRouter(routerCfg *RouterConfig, svcs *Services) *gin.Engine {
	router := gin.Default()

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	v1 := router.Group("/api/v1")
	{
		// 签名直链与后端回调不要求登录态
		v1.GET("/file/content", handlers.ServeSignedContent(svcs.Deps, routerCfg.cfg))

		callbackGroup := v1.Group("/callback")
		{
			callbackGroup.POST("/qiniu/:key", handlers.QiniuCallback(svcs.Callback))
			callbackGroup.POST("/upyun/:key", handlers.UpyunCallback(svcs.Callback))
			callbackGroup.POST("/remote/:key", handlers.RemoteCallback(svcs.Callback))
		}

		// 需要认证的路由组
		authenticated := v1.Group("/")
		authenticated.Use(middlewares.AuthMiddleware(routerCfg.cfg))

		fileGroup := authenticated.Group("/files")
		{
			fileGroup.GET("/", handlers.ListDirectory(svcs.File))
			fileGroup.GET("/search", handlers.SearchFiles(svcs.File))
			fileGroup.POST("/folder", handlers.CreateFolder(svcs.Folder))
			fileGroup.PUT("/rename", handlers.Rename(svcs.File, svcs.Folder))
			fileGroup.PUT("/move", handlers.Move(svcs.File))
			fileGroup.DELETE("/", handlers.Delete(svcs.File, svcs.Folder))
			fileGroup.GET("/source", handlers.GetSource(svcs.File))
			fileGroup.GET("/thumb", handlers.GetThumb(svcs.File))
			fileGroup.GET("/content", handlers.GetContent(svcs.File))
			fileGroup.PUT("/content", handlers.PutContent(svcs.File))
		}

		uploadGroup := authenticated.Group("/upload")
		{
			uploadGroup.POST("/credential", handlers.GetUploadCredential(svcs.Upload))
			uploadGroup.PUT("/", handlers.Upload(svcs.Upload))
			uploadGroup.POST("/chunk", handlers.UploadChunk(svcs.Upload))
			uploadGroup.POST("/finish", handlers.FinalizeChunks(svcs.Upload))
			uploadGroup.POST("/complete/:key", handlers.CompleteUpload(svcs.Callback))
		}
	}

	return router
}
