package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams       = errors.New("无效的请求参数")
	ErrInvalidName         = errors.New("名称包含非法字符")
	ErrExtensionChanged    = errors.New("重命名不能更改文件扩展名")
	ErrExtensionNotAllowed = errors.New("存储策略不允许上传该类型文件")
	ErrFileTooLarge        = errors.New("文件大小超出存储策略限制")
	ErrChunkTooLarge       = errors.New("分片大小超出上限")
	ErrChunkMissing        = errors.New("部分上传分片丢失，请重新上传")
	ErrQuotaExceeded       = errors.New("存储空间不足")

	// 回调与签名错误
	ErrUnauthorized = errors.New("用户未授权")
	ErrTokenInvalid = errors.New("认证 Token 无效或已过期")
	ErrUntrusted    = errors.New("回调签名校验失败")

	// 权限错误
	ErrForbidden             = errors.New("禁止访问")
	ErrEditTooLarge          = errors.New("文件过大，无法在线编辑")
	ErrPolicyUnsupported     = errors.New("当前存储策略不支持该操作")
	ErrFolderMoveUnsupported = errors.New("暂不支持移动目录")

	// 缓存错误
	ErrEmptyCache = errors.New("缓存为空")

	// 资源未找到错误
	ErrUserNotFound   = errors.New("用户不存在")
	ErrFileNotFound   = errors.New("文件不存在")
	ErrFolderNotFound = errors.New("目录不存在")
	ErrPolicyNotFound = errors.New("存储策略不存在")
	ErrTicketNotFound = errors.New("回调凭证不存在或已被使用")
	ErrTaskNotFound   = errors.New("上传任务不存在")

	// 业务逻辑冲突
	ErrNameConflict = errors.New("同目录下已存在同名文件或目录")
	ErrPolicyInUse  = errors.New("存储策略仍被用户组或文件引用，无法删除")
	ErrChunkExists  = errors.New("该分片已上传过")

	// 数据库与外部服务错误
	ErrDatabaseError      = errors.New("数据库操作失败")
	ErrBackendUnavailable = errors.New("存储后端不可用")
	ErrMQError            = errors.New("消息队列操作失败")
)

// CodeOf 返回错误对应的业务码，未识别的错误归入服务器内部错误。
func CodeOf(err error) int {
	for e, code := range codeTable {
		if errors.Is(err, e) {
			return code
		}
	}
	return InternalServerErrorCode
}

// HTTPStatusOf 按业务码段推导 HTTP 状态码
func HTTPStatusOf(code int) int {
	switch {
	case code == SuccessCode:
		return 200
	case code >= 40000 && code < 40100:
		return 400
	case code >= 40100 && code < 40300:
		return 401
	case code >= 40300 && code < 40400:
		return 403
	case code >= 40400 && code < 40900:
		return 404
	case code >= 40900 && code < 41000:
		return 409
	default:
		return 500
	}
}

var codeTable = map[error]int{
	ErrInvalidParams:         InvalidParamsCode,
	ErrInvalidName:           InvalidNameCode,
	ErrExtensionChanged:      ExtensionChangedCode,
	ErrExtensionNotAllowed:   ExtensionNotAllowedCode,
	ErrFileTooLarge:          FileTooLargeCode,
	ErrChunkTooLarge:         ChunkTooLargeCode,
	ErrChunkMissing:          ChunkMissingCode,
	ErrQuotaExceeded:         QuotaExceededCode,
	ErrUnauthorized:          UnauthorizedCode,
	ErrTokenInvalid:          TokenInvalidCode,
	ErrUntrusted:             UntrustedCode,
	ErrForbidden:             ForbiddenCode,
	ErrEditTooLarge:          EditTooLargeCode,
	ErrPolicyUnsupported:     PolicyUnsupportedCode,
	ErrFolderMoveUnsupported: FolderMoveUnsupportedCode,
	ErrUserNotFound:          UserNotFoundCode,
	ErrFileNotFound:          FileNotFoundCode,
	ErrFolderNotFound:        FolderNotFoundCode,
	ErrPolicyNotFound:        PolicyNotFoundCode,
	ErrTicketNotFound:        TicketNotFoundCode,
	ErrTaskNotFound:          NotFoundCode,
	ErrNameConflict:          NameConflictCode,
	ErrPolicyInUse:           PolicyInUseCode,
	ErrChunkExists:           ChunkExistsCode,
	ErrDatabaseError:         DatabaseErrorCode,
	ErrBackendUnavailable:    BackendUnavailableCode,
	ErrMQError:               MQErrorCode,
}
