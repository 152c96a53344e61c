package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode         = 40000 // 无效的请求参数
	InvalidNameCode           = 40001 // 文件名/目录名非法
	ExtensionChangedCode      = 40002 // 重命名不允许更改扩展名
	ExtensionNotAllowedCode   = 40003 // 扩展名不在策略允许列表内
	FileTooLargeCode          = 40004 // 文件大小超出策略限制
	ChunkTooLargeCode         = 40005 // 单个分片超出大小上限
	ChunkMissingCode          = 40006 // 上传分片丢失
	QuotaExceededCode         = 40007 // 用户存储空间不足
	FolderMoveUnsupportedCode = 40008 // 不支持移动目录

	// --- 回调/签名错误系列 (401xx) ---
	UnauthorizedCode = 40100 // 通用未授权
	TokenInvalidCode = 40101 // Token 无效或过期
	UntrustedCode    = 40102 // 回调签名或上传凭证校验失败

	// --- 权限错误系列 (403xx) ---
	ForbiddenCode         = 40300 // 通用无权限
	EditTooLargeCode      = 40301 // 文件超出在线编辑大小上限
	PolicyUnsupportedCode = 40302 // 当前存储策略不支持该操作

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode       = 40400 // 通用资源未找到
	UserNotFoundCode   = 40401 // 用户不存在
	FileNotFoundCode   = 40402 // 文件不存在
	FolderNotFoundCode = 40403 // 目录不存在
	PolicyNotFoundCode = 40404 // 存储策略不存在
	TicketNotFoundCode = 40405 // 回调凭证不存在或已被使用

	// --- 业务逻辑冲突系列 (409xx) ---
	NameConflictCode = 40900 // 同目录下已存在同名文件或目录
	PolicyInUseCode  = 40901 // 存储策略仍被引用，无法删除
	ChunkExistsCode  = 40902 // 同一会话同一序号的分片已存在

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	DatabaseErrorCode       = 50001 // 数据库操作失败
	BackendUnavailableCode  = 50002 // 存储后端不可用（网络/认证失败）
	MQErrorCode             = 50003 // 消息队列操作失败
)
