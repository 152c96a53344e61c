package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/utils"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/luokaiyi/go-cloudvault/internal/services/explorer"
)

// ListDirectory 列出目录下的子目录与文件
func ListDirectory(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		dir := decodePath(c.Query("path"))
		result, err := fileService.List(userID, dir)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Directory listed successfully", result)
	}
}

// SearchFiles 按文件名模糊搜索
func SearchFiles(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		keyword := c.Query("keyword")
		if keyword == "" {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "keyword is required")
			return
		}
		files, err := fileService.Search(userID, keyword)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Search completed", files)
	}
}

// CreateFolder 创建目录
func CreateFolder(folderService explorer.FolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req struct {
			Dir  string `json:"dir" binding:"required"`
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		folder, err := folderService.Create(c.Request.Context(), userID, decodePath(req.Dir), req.Name)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Folder created successfully", folder)
	}
}

// Rename 重命名文件或目录，按路径先文件后目录尝试
func Rename(fileService explorer.FileService, folderService explorer.FolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.RenameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		logicalPath := decodePath(req.Path)
		file, err := fileService.Rename(c.Request.Context(), userID, logicalPath, req.NewName)
		if err == nil {
			xerr.Success(c, http.StatusOK, "File renamed successfully", file)
			return
		}
		if !xerr.Is(err, xerr.ErrFileNotFound) {
			fail(c, err)
			return
		}

		folder, err := folderService.Rename(c.Request.Context(), userID, logicalPath, req.NewName)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Folder renamed successfully", folder)
	}
}

// Move 移动文件到目标目录
func Move(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.MoveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		req.Dst = decodePath(req.Dst)

		if err := fileService.Move(c.Request.Context(), userID, &req); err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Files moved successfully", nil)
	}
}

// Delete 删除文件与目录，目录为递归删除
func Delete(fileService explorer.FileService, folderService explorer.FolderService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		var req models.DeleteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, fmt.Sprintf("Invalid request body: %v", err))
			return
		}

		if err := fileService.Delete(c.Request.Context(), userID, req.Files); err != nil {
			fail(c, err)
			return
		}
		for _, p := range req.Folders {
			if err := folderService.DeleteRecursive(c.Request.Context(), userID, decodePath(p)); err != nil {
				fail(c, err)
				return
			}
		}
		xerr.Success(c, http.StatusOK, "Deleted successfully", nil)
	}
}

// GetSource 获取预览/下载地址
// 远端策略返回后端直链，本机策略返回站点签名的临时直链
func GetSource(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		isDownload := c.Query("download") == "1"
		src, _, err := fileService.Source(c.Request.Context(), userID, decodePath(c.Query("path")), isDownload)
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Source generated successfully", gin.H{"url": src.URL})
	}
}

// GetThumb 获取缩略图，本机策略直接回流，远端策略重定向
func GetThumb(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		src, err := fileService.Thumb(c.Request.Context(), userID, decodePath(c.Query("path")))
		if err != nil {
			fail(c, err)
			return
		}
		if src.URL != "" {
			c.Redirect(http.StatusFound, src.URL)
			return
		}
		c.File(src.LocalPath)
	}
}

// GetContent 在线编辑读取文件内容
func GetContent(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		file, rc, err := fileService.GetContent(c.Request.Context(), userID, decodePath(c.Query("path")))
		if err != nil {
			fail(c, err)
			return
		}
		defer rc.Close()

		c.Header("Content-Type", "application/octet-stream")
		c.Header("Content-Length", fmt.Sprintf("%d", file.Size))
		if _, err := io.Copy(c.Writer, rc); err != nil {
			// 响应已开始写，只能记下错误
			_ = c.Error(err)
		}
	}
}

// PutContent 在线编辑保存文件内容
func PutContent(fileService explorer.FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c)
		if !ok {
			return
		}

		logicalPath := decodePath(c.Query("path"))
		size := c.Request.ContentLength
		if size < 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "Content-Length is required")
			return
		}

		file, err := fileService.PutContent(c.Request.Context(), userID, logicalPath, c.Request.Body, uint64(size))
		if err != nil {
			fail(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "Content saved successfully", file)
	}
}

// ServeSignedContent 本机策略文件流接口，凭 URL 签名放行，不要求登录态
func ServeSignedContent(deps storage.Deps, cfg *config.Config) gin.HandlerFunc {
	local := storage.NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	return func(c *gin.Context) {
		if err := auth.CheckURI(deps.Auth, c.Request.URL); err != nil {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UntrustedCode, "Invalid or expired signature")
			return
		}

		src, err := local.Source(c.Request.Context(), &storage.SourceRequest{ObjName: c.Query("path")})
		if err != nil {
			fail(c, err)
			return
		}

		displayName := c.Query("name")
		isDownload := c.Query("download") == "1"
		if err := local.ServeContent(c.Writer, c.Request, src, displayName, isDownload); err != nil {
			_ = c.Error(err)
		}
	}
}
