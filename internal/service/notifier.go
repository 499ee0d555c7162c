package service

import (
	"context"

	"coach-chat/internal/platform/logger"
	"coach-chat/internal/storage/database/chatstore"
)

// Notifier 接收「新訊息待通知」事實的協作者接口
// 推播/郵件的實際發送由外部通知服務負責，這裡只發出事實
type Notifier interface {
	NotifyNewMessage(ctx context.Context, thread *chatstore.Thread, message *chatstore.Message, recipients []string)
}

// LogNotifier 把通知事實寫進日誌的預設實作
// 部署時由通知服務的客戶端取代
type LogNotifier struct{}

// NewLogNotifier 創建日誌通知器
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// NotifyNewMessage 記錄新訊息通知事實
func (n *LogNotifier) NotifyNewMessage(ctx context.Context, thread *chatstore.Thread, message *chatstore.Message, recipients []string) {
	logger.Info(ctx, "新訊息待通知",
		logger.WithThreadID(thread.ID),
		logger.WithMessageID(message.ID),
		logger.WithUserID(message.SenderID),
		logger.WithDetails(map[string]interface{}{
			"recipients":   recipients,
			"message_type": message.Type,
		}))
}
