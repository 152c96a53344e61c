package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
)

// rootDirSentinel 路径参数不允许为空时客户端用它表示根目录
const rootDirSentinel = "ROOTDIR"

// decodePath 还原客户端传来的逻辑路径
func decodePath(raw string) string {
	if raw == "" || raw == rootDirSentinel {
		return "/"
	}
	return raw
}

// fail 把服务层错误翻译成统一响应：业务码查表，HTTP 状态按码段推导
func fail(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	xerr.Error(c, xerr.HTTPStatusOf(code), code, err.Error())
}
