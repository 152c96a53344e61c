package setup

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"go.uber.org/zap"
)

var RedisClientGlobal *redis.Client

// InitRedis 初始化 Redis 连接
func InitRedis(cfg *config.Config) {
	RedisClientGlobal = redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	if _, err := RedisClientGlobal.Ping(context.Background()).Result(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Connected to Redis successfully!")
}

// CloseRedis 关闭 Redis 连接
func CloseRedis() {
	if RedisClientGlobal != nil {
		if err := RedisClientGlobal.Close(); err != nil {
			logger.Error("Error closing Redis connection", zap.Error(err))
		} else {
			logger.Info("Redis connection closed.")
		}
	}
}
