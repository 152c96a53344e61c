package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/services/explorer"
)

// QiniuCallback 七牛上传完成回调
// 响应格式按七牛的约定：成功回 {"key": ...}，失败回 {"error": ...}
func QiniuCallback(callbackService explorer.CallbackService) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
			return
		}
		// 签名校验可能还要读一遍 body
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		file, err := callbackService.ProcessQiniu(c.Request.Context(), c.Request, c.Param("key"), body)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": file.Name})
	}
}

// UpyunCallback 又拍云上传异步通知
func UpyunCallback(callbackService explorer.CallbackService) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "cannot read request body"})
			return
		}

		_, err = callbackService.ProcessUpyun(c.Request.Context(), c.GetHeader("Content-MD5"), c.Param("key"), body)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok"})
	}
}

// RemoteCallback 从机节点上传完成回调
func RemoteCallback(callbackService explorer.CallbackService) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "cannot read request body")
			return
		}

		file, err := callbackService.ProcessRemote(c.Request.Context(), c.Request, c.Param("key"), body)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Callback processed successfully", file)
	}
}

// CompleteUpload 客户端直传完成上报（OSS 表单直传 / OneDrive 会话）
// 走登录态路由，服务端再向后端核实对象真实存在
func CompleteUpload(callbackService explorer.CallbackService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		file, err := callbackService.ProcessClientCompleted(c.Request.Context(), userID, c.Param("key"))
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Upload completed successfully", file)
	}
}
