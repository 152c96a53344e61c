package thumb

import (
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/logger"
	"go.uber.org/zap"

	// 注册常见图片格式解码器，探测尺寸时需要
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Generate 生成定尺寸缩略图：先缩放铺满目标框再居中裁剪，不留黑边
func Generate(src image.Image, width, height int) *image.NRGBA {
	return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
}

// GenerateToFile 从源文件生成缩略图并写入 dst，dst 的扩展名决定编码格式
func GenerateToFile(srcPath, dstPath string, width, height int) error {
	src, err := imaging.Open(srcPath)
	if err != nil {
		logger.Warn("打开缩略图源文件失败", zap.String("src", srcPath), zap.Error(err))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0744); err != nil {
		return err
	}

	thumb := Generate(src, width, height)
	if err := imaging.Save(thumb, dstPath); err != nil {
		logger.Error("保存缩略图失败", zap.String("dst", dstPath), zap.Error(err))
		return err
	}
	return nil
}

// SidecarPath 返回缩略图在源文件旁的缓存路径，命名确定，可用于命中判断
func SidecarPath(sourcePath, suffix string) string {
	return sourcePath + suffix + ".png"
}

// ProbeDimensions 读取图片头探测宽高，失败返回 0,0
// 只解码图片头，不加载全图
func ProbeDimensions(r io.Reader) (int, int) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// IsImage 根据扩展名判断是否按图片处理
func IsImage(ext string) bool {
	switch ext {
	case "jpg", "jpeg", "png", "gif":
		return true
	default:
		return false
	}
}
