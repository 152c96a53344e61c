package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/services/explorer"
)

// GetUploadCredential 为客户端直传后端签发上传凭证
func GetUploadCredential(uploadService explorer.UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req struct {
			Dir  string `json:"dir" binding:"required"`
			Name string `json:"name" binding:"required"`
			Size uint64 `json:"size" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		credential, err := uploadService.GetCredential(c.Request.Context(), userID,
			&models.UploadRequest{Dir: decodePath(req.Dir), Name: req.Name}, req.Size)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Credential issued successfully", credential)
	}
}

// Upload 服务端中转上传，请求体即文件内容
func Upload(uploadService explorer.UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.UploadRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid query parameters: %v", err))
			return
		}
		req.Dir = decodePath(req.Dir)

		size := c.Request.ContentLength
		if size <= 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Content-Length is required")
			return
		}

		file, task, err := uploadService.Upload(c.Request.Context(), userID, &req, c.Request.Body, uint64(size))
		if err != nil {
			fail(c, err)
			return
		}
		if file != nil {
			xerr.Success(c, http.StatusOK, "File uploaded successfully", file)
			return
		}
		// 非本机策略走异步任务，返回任务编号供查询
		xerr.Success(c, http.StatusAccepted, "Upload task queued", gin.H{"task_id": task.ID})
	}
}

// UploadChunk 上传单个分片，请求体即分片内容
func UploadChunk(uploadService explorer.UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.UploadChunkRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid query parameters: %v", err))
			return
		}

		size := c.Request.ContentLength
		if size <= 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Content-Length is required")
			return
		}

		resp, err := uploadService.UploadChunk(c.Request.Context(), userID, &req, c.Request.Body, uint64(size))
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Chunk uploaded successfully", resp)
	}
}

// FinalizeChunks 所有分片到齐后触发合并
func FinalizeChunks(uploadService explorer.UploadService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.FinalizeChunksRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		req.Dir = decodePath(req.Dir)

		file, task, err := uploadService.FinalizeChunks(c.Request.Context(), userID, &req)
		if err != nil {
			fail(c, err)
			return
		}
		if file != nil {
			xerr.Success(c, http.StatusOK, "File uploaded successfully", file)
			return
		}
		xerr.Success(c, http.StatusAccepted, "Merge task queued", gin.H{"task_id": task.ID})
	}
}
