package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"coach-chat/internal/constants"
	"coach-chat/internal/platform/config"

	"github.com/gin-gonic/gin"
)

// ValidateMessageContent 驗證文字訊息內容
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("訊息內容不能為空")
	}

	cfg := config.Get()
	maxLength := constants.DefaultMaxTextLength
	if cfg != nil && cfg.Limits.Message.MaxLength > 0 {
		maxLength = cfg.Limits.Message.MaxLength
	}

	if len(content) > maxLength {
		return fmt.Errorf("訊息內容超過最大長度限制 (%d 字符)", maxLength)
	}

	// 防止 NULL 字符注入
	if strings.Contains(content, "\x00") {
		return fmt.Errorf("訊息內容包含非法字符")
	}

	return nil
}

// ValidateThreadTitle 驗證對話串標題
func ValidateThreadTitle(title string) error {
	trimmed := strings.TrimSpace(title)

	if len(trimmed) < constants.MinTitleLength {
		return fmt.Errorf("對話串標題不能為空")
	}

	cfg := config.Get()
	maxLength := constants.DefaultMaxTitleLength
	if cfg != nil && cfg.Limits.Thread.MaxTitleLength > 0 {
		maxLength = cfg.Limits.Thread.MaxTitleLength
	}

	if len(title) > maxLength {
		return fmt.Errorf("對話串標題超過最大長度限制 (%d 字符)", maxLength)
	}

	// 防止 NULL 字符注入
	if strings.Contains(title, "\x00") {
		return fmt.Errorf("對話串標題包含非法字符")
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和特殊字符
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateThreadID 驗證對話串 ID 格式（MongoDB ObjectID）
func ValidateThreadID(threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return fmt.Errorf("對話串 ID 不能為空")
	}

	// MongoDB ObjectID 長度為 24 個十六進制字符
	if len(threadID) != 24 {
		return fmt.Errorf("對話串 ID 格式錯誤")
	}

	// 只允許十六進制字符
	for _, c := range threadID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("對話串 ID 格式錯誤")
		}
	}

	return nil
}

// ValidateEmoji 驗證表情符號
func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("表情符號不能為空")
	}

	if len(emoji) > constants.MaxEmojiLength {
		return fmt.Errorf("表情符號格式錯誤")
	}

	if strings.Contains(emoji, "\x00") {
		return fmt.Errorf("表情符號包含非法字符")
	}

	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	// 移除 NULL 字符
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
