package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache 缓存通用接口，用于上传会话状态与策略令牌的短期存储
type Cache interface {
	// Set 在缓存中设置一个值，value 应是可被 JSON 序列化的结构体或指针
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get 从缓存中检索一个值，target 应是期望反序列化类型的指针
	Get(ctx context.Context, key string, target any) error

	// Del 删除一个或多个key
	Del(ctx context.Context, keys ...string) error

	// Exists 检查key是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 哈希操作函数
	HSet(ctx context.Context, key string, field string, value any) error
	HGet(ctx context.Context, key string, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// GenerateChunkSessionKey 分片会话在缓存中的键
func GenerateChunkSessionKey(ctx string) string {
	return fmt.Sprintf("upload:chunk:%s", ctx)
}

// GeneratePolicyTokenKey 策略后端令牌在缓存中的键
func GeneratePolicyTokenKey(policyID uint64) string {
	return fmt.Sprintf("policy:token:%d", policyID)
}
