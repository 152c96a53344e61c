package models

// UploadRequest 定义了直接上传的请求参数
type UploadRequest struct {
	Dir  string `form:"dir" binding:"required"` // 目标逻辑目录，根目录传 ROOTDIR
	Name string `form:"name" binding:"required"`
}

// UploadChunkRequest 定义了上传分片的请求参数
type UploadChunkRequest struct {
	Ctx   string `form:"ctx"` // 上传会话令牌，空串表示新会话
	Index int    `form:"index"`
	Total int    `form:"total" binding:"required"`
}

// UploadChunkResponse 定义了分片上传的响应体
type UploadChunkResponse struct {
	Ctx      string `json:"ctx"`
	Uploaded int    `json:"uploaded"` // 已到达的分片数
}

// FinalizeChunksRequest 定义了分片合并的请求体
type FinalizeChunksRequest struct {
	Ctx  string `json:"ctx" binding:"required"`
	Dir  string `json:"dir" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// UploadCredentialResponse 客户端直传后端所需的上传凭证
type UploadCredentialResponse struct {
	Token     string `json:"token"`      // 上传凭证（七牛 uptoken / 又拍云 policy 签名等）
	Policy    string `json:"policy"`     // base64 编码的上传策略，按后端需要
	UploadURL string `json:"upload_url"` // 客户端上传入口
	Key       string `json:"key"`        // 预定的对象键
	TicketKey string `json:"ticket_key"` // 对应回调凭证
}

// RenameRequest 定义了重命名请求体
type RenameRequest struct {
	Path    string `json:"path" binding:"required"` // 逻辑路径
	NewName string `json:"new_name" binding:"required"`
}

// MoveRequest 定义了移动请求体
type MoveRequest struct {
	Files   []string `json:"files"`   // 待移动文件的逻辑路径
	Folders []string `json:"folders"` // 待移动目录的逻辑路径（当前不支持，非空即拒绝）
	Dst     string   `json:"dst" binding:"required"`
}

// DeleteRequest 定义了删除请求体
type DeleteRequest struct {
	Files   []string `json:"files"`
	Folders []string `json:"folders"`
}

// PutContentRequest 在线编辑保存的请求参数
type PutContentRequest struct {
	Path string `form:"path" binding:"required"`
}
