package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Local    LocalConfig    `mapstructure:"local"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Thumb    ThumbConfig    `mapstructure:"thumb"`
	Sign     SignConfig     `mapstructure:"sign"`
	Cron     CronConfig     `mapstructure:"cron"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
	// BaseURL 站点外部访问地址，用于拼接回调地址和本机下载链接
	BaseURL string `mapstructure:"base_url"`
}

// MySQLConfig 数据库配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey string        `mapstructure:"secret_key"`
	ExpiresIn time.Duration `mapstructure:"expires_in"`
	Issuer    string        `mapstructure:"issuer"`
}

// LocalConfig 本机存储配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
	TempPath string `mapstructure:"temp_path"`
	// SendFile 为 true 时下载交给前置服务器（X-Accel-Redirect/X-Sendfile），
	// 应用进程只负责鉴权和响应头
	SendFile       bool   `mapstructure:"send_file"`
	SendFileHeader string `mapstructure:"send_file_header"`
	// EditSizeLimit 在线编辑允许的最大字节数
	EditSizeLimit int64 `mapstructure:"edit_size_limit"`
}

// UploadConfig 上传相关配置
type UploadConfig struct {
	// ChunkSizeLimit 单个分片允许的最大字节数
	ChunkSizeLimit int64 `mapstructure:"chunk_size_limit"`
	// ChunkExpiresIn 分片记录在被周期清理前的保留时长
	ChunkExpiresIn time.Duration `mapstructure:"chunk_expires_in"`
	// TicketExpiresIn 回调凭证的有效时长
	TicketExpiresIn time.Duration `mapstructure:"ticket_expires_in"`
	// TaskRetryLimit 异步上传任务允许的重试次数
	TaskRetryLimit int `mapstructure:"task_retry_limit"`
}

// ThumbConfig 缩略图配置
type ThumbConfig struct {
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Suffix string `mapstructure:"suffix"`
}

// SignConfig 签名 URL 配置
type SignConfig struct {
	// Timeout 预览/下载临时链接的默认有效时长
	Timeout time.Duration `mapstructure:"timeout"`
}

// CronConfig 周期任务配置，值为 cron 表达式
type CronConfig struct {
	SweepSpec        string `mapstructure:"sweep_spec"`
	TokenRefreshSpec string `mapstructure:"token_refresh_spec"`
}

// LogConfig zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

var AppConfig *Config // 全局应用配置实例

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")              // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")                // 配置文件类型
	viper.AddConfigPath(".")                   // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")           // 也可以添加其他路径
	viper.AddConfigPath("/etc/go-cloudvault/") // 生产环境常见路径

	// 读取环境变量，例如 GO_CLOUDVAULT_SERVER_PORT 对应 server.port
	viper.SetEnvPrefix("GO_CLOUDVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 默认值，配置文件和环境变量都缺省时生效
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("local.base_path", "./uploads/data")
	viper.SetDefault("local.temp_path", "./uploads/chunks")
	viper.SetDefault("local.send_file_header", "X-Accel-Redirect")
	viper.SetDefault("local.edit_size_limit", 4<<20)
	viper.SetDefault("upload.chunk_size_limit", 8<<20)
	viper.SetDefault("upload.chunk_expires_in", 24*time.Hour)
	viper.SetDefault("upload.ticket_expires_in", time.Hour)
	viper.SetDefault("upload.task_retry_limit", 3)
	viper.SetDefault("thumb.width", 90)
	viper.SetDefault("thumb.height", 39)
	viper.SetDefault("thumb.suffix", "_thumb")
	viper.SetDefault("sign.timeout", time.Hour)
	viper.SetDefault("cron.sweep_spec", "@every 30m")
	viper.SetDefault("cron.token_refresh_spec", "@every 1h")

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到不是致命错误，可以依赖环境变量或默认值
			log.Println("Warning: config file not found, using environment variables or default values.")
		} else {
			log.Fatalf("Fatal error reading config file: %s \n", err)
			return nil, err
		}
	}

	// 将读取到的配置绑定到结构体
	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Fatalf("Fatal error unmarshaling config: %s \n", err)
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return AppConfig, nil
}
