package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 10 << 20 // 10MB
	DefaultRequestTimeout     = 30       // 秒
)

// 分頁相關常數
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	MinPageSize     = 1
)

// 對話串相關常數
const (
	DefaultMaxParticipants   = 1000
	DefaultMaxTitleLength    = 100
	MinTitleLength           = 1
	DirectThreadParticipants = 2
)

// 訊息相關常數
const (
	DefaultMaxTextLength = 5000
	MaxEmojiLength       = 16
	EventChannelBuffer   = 16
)

// 送達相關常數
const (
	// 向單一 session 推送事件的最長等待時間（毫秒），超時即丟棄
	DefaultFanoutTimeoutMS = 50
)

// 輸入狀態相關常數
const (
	// 伺服器端自動清除輸入中標記的時間（秒）
	DefaultTypingTTLSeconds = 10
)

// 離線佇列相關常數
const (
	DefaultRetryBaseSeconds = 1
	DefaultRetryFactor      = 2
	DefaultMaxSendAttempts  = 3
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	DefaultThreadRateLimit      = 10
	DefaultSSERateLimit         = 5
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// SSE 連接相關常數
const (
	DefaultSSEMaxConnectionsPerIP   = 3
	DefaultSSEMaxTotalConnections   = 1000
	DefaultSSEMinConnectionInterval = 10 // 秒
	DefaultSSEHeartbeatInterval     = 15 // 秒
)

// MongoDB 查詢相關常數
const (
	DefaultMongoQueryLimit  = 50
	MaxMongoQueryLimit      = 100
	DefaultUserThreadsLimit = 100
)

// 用戶 ID 相關常數
const (
	MaxUserIDLength = 100
)
