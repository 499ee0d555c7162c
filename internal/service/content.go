package service

import (
	"net/url"
	"strings"

	"coach-chat/internal/apperr"
	"coach-chat/internal/platform/middleware"
	"coach-chat/internal/storage/database/chatstore"
)

// contentValidator 單一訊息類型的內容驗證函數
type contentValidator func(content string, metadata chatstore.MessageMetadata) error

// contentValidators 依訊息類型分派驗證
// 媒體類型要求已解析的媒體引用（URL 或 ID），這裡只做形狀檢查不取回內容
var contentValidators = map[string]contentValidator{
	chatstore.MessageTypeText:     validateTextContent,
	chatstore.MessageTypeImage:    validateMediaReference,
	chatstore.MessageTypeVideo:    validateMediaReference,
	chatstore.MessageTypeVoice:    validateMediaReference,
	chatstore.MessageTypeFile:     validateMediaReference,
	chatstore.MessageTypeLocation: validateLocationContent,
	chatstore.MessageTypeSystem:   validateTextContent,
}

// validateContent 依類型驗證訊息內容
func validateContent(messageType, content string, metadata chatstore.MessageMetadata) error {
	validator, ok := contentValidators[messageType]
	if !ok {
		return apperr.Newf(apperr.KindValidation, "未知的訊息類型: %s", messageType)
	}
	return validator(content, metadata)
}

// validateTextContent 驗證文字訊息
func validateTextContent(content string, _ chatstore.MessageMetadata) error {
	if err := middleware.ValidateMessageContent(content); err != nil {
		return apperr.Wrap(apperr.KindValidation, "訊息內容驗證失敗", err)
	}
	return nil
}

// validateMediaReference 驗證媒體引用
// 內容必須是已上傳媒體的 URL 或識別碼，不接受原始位元組
func validateMediaReference(content string, _ chatstore.MessageMetadata) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return apperr.New(apperr.KindValidation, "媒體訊息必須帶有已解析的媒體引用")
	}

	if strings.Contains(trimmed, "\x00") {
		return apperr.New(apperr.KindValidation, "媒體引用包含非法字符")
	}

	// URL 形狀的引用額外檢查可解析性
	if strings.Contains(trimmed, "://") {
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return apperr.Wrap(apperr.KindValidation, "媒體引用不是合法的 URL", err)
		}
	}

	return nil
}

// validateLocationContent 驗證位置訊息
func validateLocationContent(_ string, metadata chatstore.MessageMetadata) error {
	if metadata.Latitude < -90 || metadata.Latitude > 90 {
		return apperr.New(apperr.KindValidation, "緯度超出範圍")
	}
	if metadata.Longitude < -180 || metadata.Longitude > 180 {
		return apperr.New(apperr.KindValidation, "經度超出範圍")
	}
	if metadata.Latitude == 0 && metadata.Longitude == 0 {
		return apperr.New(apperr.KindValidation, "位置訊息必須帶有座標")
	}
	return nil
}

// previewFor 生成對話串列表用的最後訊息預覽
func previewFor(messageType, content string) string {
	switch messageType {
	case chatstore.MessageTypeText, chatstore.MessageTypeSystem:
		const maxPreview = 50
		runes := []rune(content)
		if len(runes) > maxPreview {
			return string(runes[:maxPreview])
		}
		return content
	case chatstore.MessageTypeImage:
		return "[圖片]"
	case chatstore.MessageTypeVideo:
		return "[影片]"
	case chatstore.MessageTypeVoice:
		return "[語音]"
	case chatstore.MessageTypeFile:
		return "[檔案]"
	case chatstore.MessageTypeLocation:
		return "[位置]"
	default:
		return ""
	}
}
