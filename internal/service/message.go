package service

import (
	"context"
	"time"

	"coach-chat/internal/apperr"
	"coach-chat/internal/delivery"
	"coach-chat/internal/platform/logger"
	"coach-chat/internal/platform/metrics"
	"coach-chat/internal/platform/middleware"
	"coach-chat/internal/storage/database/chatstore"

	"github.com/google/uuid"
)

// SendMessageInput 發送訊息的輸入
// ID 由發送端指定以支援安全重送；留空時由伺服器補上
type SendMessageInput struct {
	ID       string
	ThreadID string
	Type     string
	Content  string
	Metadata chatstore.MessageMetadata
	ReplyTo  string
}

// SendMessage 發送訊息
// 相同 ID 的重送回傳既有訊息而不產生重複記錄
func (s *ChatService) SendMessage(ctx context.Context, caller Caller, in SendMessageInput) (*chatstore.Message, error) {
	start := time.Now()

	if err := validateContent(in.Type, in.Content, in.Metadata); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, in.ThreadID, caller.ID); err != nil {
		return nil, err
	}

	if in.ID == "" {
		in.ID = uuid.New().String()
	}

	// 回覆引用必須指向同一對話串內的訊息
	if in.ReplyTo != "" {
		target, err := s.messages.GetByID(ctx, in.ReplyTo)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, apperr.Newf(apperr.KindValidation, "回覆的訊息 %s 不存在", in.ReplyTo)
			}
			return nil, err
		}
		if target.ThreadID != in.ThreadID {
			return nil, apperr.New(apperr.KindValidation, "不能回覆其他對話串的訊息")
		}
	}

	message := &chatstore.Message{
		ID:       in.ID,
		ThreadID: in.ThreadID,
		SenderID: caller.ID,
		Type:     in.Type,
		Content:  in.Content,
		Status:   chatstore.MessageStatusSent,
		Metadata: in.Metadata,
		ReplyTo:  in.ReplyTo,
	}

	if err := s.messages.Insert(ctx, message); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			// 重送：回傳既有訊息，前提是它屬於同一對話串同一發送者
			existing, getErr := s.messages.GetByID(ctx, in.ID)
			if getErr != nil {
				return nil, getErr
			}
			if existing.ThreadID != in.ThreadID || existing.SenderID != caller.ID {
				return nil, apperr.Newf(apperr.KindConflict, "訊息 ID %s 已被使用", in.ID)
			}
			metrics.MessagesDuplicate.Inc()
			return existing, nil
		}
		return nil, err
	}

	if err := s.threads.TouchLastMessage(ctx, in.ThreadID, message.CreatedAt, previewFor(in.Type, in.Content)); err != nil {
		logger.Warningf(ctx, "更新對話串最後訊息失敗: %v", err)
	}

	s.hub.Publish(in.ThreadID, delivery.NewEvent(delivery.EventMessageCreated, in.ThreadID, message), caller.ID)
	s.notifyRecipients(ctx, message)
	s.audit.LogMessageSent(ctx, caller.ID, in.ThreadID, message.ID, in.Type)

	metrics.MessagesSent.WithLabelValues(in.Type).Inc()
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	return message, nil
}

// GetMessages 獲取對話串訊息歷史，(created_at, id) 倒序的游標分頁
func (s *ChatService) GetMessages(
	ctx context.Context, caller Caller, threadID string, limit int, cursor string,
) ([]*chatstore.Message, string, bool, error) {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return nil, "", false, err
	}
	limit = clampLimit(limit)
	return s.messages.ListByThread(ctx, threadID, limit, cursor)
}

// MarkDelivered 記錄送達回執（冪等）
// 只在狀態仍為 sent 時推進為 delivered，晚到的回執不會讓已讀退回
func (s *ChatService) MarkDelivered(ctx context.Context, caller Caller, threadID, messageID string) error {
	message, err := s.loadThreadMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return err
	}
	if message.SenderID == caller.ID {
		return apperr.New(apperr.KindValidation, "發送者不需要送達回執")
	}

	appended, err := s.messages.AppendDeliveredTo(ctx, messageID, caller.ID)
	if err != nil {
		return err
	}
	if !appended {
		// 已有回執，冪等返回
		return nil
	}

	if _, err := s.messages.AdvanceStatus(ctx, messageID,
		chatstore.MessageStatusSent, chatstore.MessageStatusDelivered); err != nil {
		return err
	}

	metrics.ReceiptsRecorded.WithLabelValues("delivered").Inc()
	s.audit.LogReceipt(ctx, caller.ID, threadID, messageID, "delivered")
	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventMessageReceived, threadID, map[string]string{
		"message_id": messageID,
		"user_id":    caller.ID,
	}), caller.ID)
	return nil
}

// MarkRead 記錄已讀回執（冪等）
// 允許送達與已讀跨傳輸競態：狀態仍為 sent 時先回填送達回執再直接推進為 read
func (s *ChatService) MarkRead(ctx context.Context, caller Caller, threadID, messageID string) error {
	message, err := s.loadThreadMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return err
	}
	if message.SenderID == caller.ID {
		return apperr.New(apperr.KindValidation, "發送者不需要已讀回執")
	}

	// 已讀蘊含送達，先回填
	if _, err := s.messages.AppendDeliveredTo(ctx, messageID, caller.ID); err != nil {
		return err
	}

	appended, err := s.messages.AppendReadBy(ctx, messageID, caller.ID)
	if err != nil {
		return err
	}
	if !appended {
		return nil
	}

	// delivered -> read；收到即讀（狀態仍為 sent）時直接推進
	advanced, err := s.messages.AdvanceStatus(ctx, messageID,
		chatstore.MessageStatusDelivered, chatstore.MessageStatusRead)
	if err != nil {
		return err
	}
	if !advanced {
		if _, err := s.messages.AdvanceStatus(ctx, messageID,
			chatstore.MessageStatusSent, chatstore.MessageStatusRead); err != nil {
			return err
		}
	}

	metrics.ReceiptsRecorded.WithLabelValues("read").Inc()
	s.audit.LogReceipt(ctx, caller.ID, threadID, messageID, "read")
	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventMessageRead, threadID, map[string]string{
		"message_id": messageID,
		"user_id":    caller.ID,
	}), caller.ID)
	return nil
}

// DeleteMessage 軟刪除訊息，僅限發送者本人或 admin 參與者
func (s *ChatService) DeleteMessage(ctx context.Context, caller Caller, threadID, messageID string) error {
	message, err := s.loadThreadMessage(ctx, caller, threadID, messageID)
	if err != nil {
		return err
	}

	if message.SenderID != caller.ID {
		isAdmin, adminErr := s.threads.IsParticipant(ctx, threadID, caller.ID, chatstore.RoleAdmin)
		if adminErr != nil {
			return adminErr
		}
		if !isAdmin {
			return apperr.New(apperr.KindForbidden, "只有發送者或管理員可以刪除訊息")
		}
	}

	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventMessageDeleted, threadID, map[string]string{
		"message_id": messageID,
	}), "")
	return nil
}

// AddReaction 切換表情反應
// 同一用戶可用多個不同 emoji，但同一 emoji 重複送出視為取消
func (s *ChatService) AddReaction(ctx context.Context, caller Caller, threadID, messageID, emoji string) (bool, error) {
	if err := middleware.ValidateEmoji(emoji); err != nil {
		return false, apperr.Wrap(apperr.KindValidation, "表情符號驗證失敗", err)
	}
	if _, err := s.loadThreadMessage(ctx, caller, threadID, messageID); err != nil {
		return false, err
	}

	added, err := s.messages.ToggleReaction(ctx, messageID, caller.ID, emoji)
	if err != nil {
		return false, err
	}

	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventReactionUpdated, threadID, map[string]interface{}{
		"message_id": messageID,
		"user_id":    caller.ID,
		"emoji":      emoji,
		"added":      added,
	}), "")
	return added, nil
}

// loadThreadMessage 載入訊息並驗證呼叫者授權與訊息歸屬
func (s *ChatService) loadThreadMessage(ctx context.Context, caller Caller, threadID, messageID string) (*chatstore.Message, error) {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return nil, err
	}
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.ThreadID != threadID {
		return nil, apperr.Newf(apperr.KindNotFound, "message %s not found", messageID)
	}
	return message, nil
}

// notifyRecipients 發出「新訊息待通知」事實給通知協作者
func (s *ChatService) notifyRecipients(ctx context.Context, message *chatstore.Message) {
	thread, err := s.threads.GetByID(ctx, message.ThreadID)
	if err != nil {
		logger.Warningf(ctx, "讀取對話串失敗，略過通知: %v", err)
		return
	}

	recipients := make([]string, 0, len(thread.Participants))
	for _, p := range thread.Participants {
		if p.UserID == message.SenderID {
			continue
		}
		recipients = append(recipients, p.UserID)
	}
	if len(recipients) == 0 {
		return
	}

	s.notifier.NotifyNewMessage(ctx, thread, message, recipients)
}
