package errors

/*
	内置错误码
	1xxx 通用  2xxx 认证  3xxx 存储  4xxx 校验  5xxx 房间
*/

var (
	// ErrInternal 服务器内部错误
	ErrInternal = New(1000, KindInternal, "internal", "internal error")
	// ErrInvalidInput 请求参数错误
	ErrInvalidInput = New(1001, KindInvalidInput, "invalid_input", "invalid input")
	// ErrRateLimited 请求过于频繁
	ErrRateLimited = New(1002, KindRateLimited, "rate_limited", "too many requests")
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, KindNotFound, "not_found", "resource not found")
	// ErrUnsupported 不支持的事件
	ErrUnsupported = New(1005, KindInvalidInput, "unsupported_event", "unsupported event type")
)

var (
	// ErrUnauthenticated 连接尚未认证
	ErrUnauthenticated = New(2000, KindUnauthenticated, "unauthenticated", "authentication required")
	// ErrTokenMissing 缺少令牌
	ErrTokenMissing = New(2001, KindUnauthenticated, "token_missing", "token is required")
	// ErrTokenMalformed 令牌格式错误
	ErrTokenMalformed = New(2002, KindUnauthenticated, "malformed", "token is malformed")
	// ErrTokenExpired 令牌过期
	ErrTokenExpired = New(2003, KindUnauthenticated, "expired", "token has expired")
	// ErrTokenSignature 令牌签名无效
	ErrTokenSignature = New(2004, KindUnauthenticated, "signature_invalid", "token signature is invalid")
	// ErrTokenRevoked 令牌已吊销
	ErrTokenRevoked = New(2005, KindUnauthenticated, "revoked", "token has been revoked")
	// ErrOriginDenied 来源不被允许
	ErrOriginDenied = New(2006, KindUnauthorized, "origin_denied", "origin not allowed")
	// ErrAccessDenied 无权访问
	ErrAccessDenied = New(2007, KindUnauthorized, "access_denied", "access denied")
	// ErrNotOwner 仅房主可操作
	ErrNotOwner = New(2008, KindUnauthorized, "not_owner", "only the room owner may do this")
)

var (
	// ErrStoreNotFound 键不存在
	ErrStoreNotFound = New(3001, KindNotFound, "key_not_found", "store key not found")
	// ErrStoreConnection 存储连接失败
	ErrStoreConnection = New(3003, KindInternal, "store_connection", "store connection failed")
	// ErrStoreInvalidConfig 存储配置错误
	ErrStoreInvalidConfig = New(3005, KindInternal, "store_config", "store invalid config")
	// ErrStoreOperation 存储操作失败
	ErrStoreOperation = New(3006, KindInternal, "store_operation", "store operation failed")
)

var (
	// ErrEmpty 字段为空
	ErrEmpty = New(4001, KindInvalidInput, "empty", "value must not be empty")
	// ErrTooLong 超出长度
	ErrTooLong = New(4002, KindInvalidInput, "too_long", "value exceeds maximum length")
	// ErrTooLarge 超出体积
	ErrTooLarge = New(4003, KindInvalidInput, "too_large", "payload exceeds maximum size")
	// ErrBadCharset 含有不允许的字符
	ErrBadCharset = New(4004, KindInvalidInput, "bad_charset", "value contains disallowed characters")
	// ErrMalformedJSON JSON 格式错误
	ErrMalformedJSON = New(4005, KindInvalidInput, "malformed_json", "payload is not valid JSON")
	// ErrTooDeep 嵌套过深
	ErrTooDeep = New(4006, KindInvalidInput, "too_deep", "payload nesting exceeds maximum depth")
	// ErrTooManyItems 数组或对象元素过多
	ErrTooManyItems = New(4007, KindInvalidInput, "too_many_items", "payload has too many elements")
	// ErrInvalidUTF8 非法 UTF-8
	ErrInvalidUTF8 = New(4008, KindInvalidInput, "invalid_utf8", "text is not valid UTF-8")
)

var (
	// ErrRoomFull 房间已满
	ErrRoomFull = New(5001, KindConflict, "room_full", "room is full")
	// ErrRoomExists 房间已存在
	ErrRoomExists = New(5002, KindConflict, "already_exists", "room already exists")
	// ErrRoomNotFound 房间不存在
	ErrRoomNotFound = New(5003, KindNotFound, "not_found", "room not found")
	// ErrBelowMembers 新上限小于当前成员数
	ErrBelowMembers = New(5005, KindConflict, "below_member_count", "max_members is below the current member count")
	// ErrNotMember 不在房间内
	ErrNotMember = New(5004, KindUnauthorized, "not_member", "not a member of this room")
)
