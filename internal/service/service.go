package service

import (
	"context"
	"fmt"
	"time"

	"coach-chat/internal/apperr"
	"coach-chat/internal/constants"
	"coach-chat/internal/delivery"
	"coach-chat/internal/platform/config"
	"coach-chat/internal/platform/logger"
	"coach-chat/internal/platform/middleware"
	"coach-chat/internal/storage/database/chatstore"

	"github.com/google/uuid"
)

// Caller 經外部身份服務驗證後的呼叫者
// 本服務信任這組值，只做參與者與角色層級的授權
type Caller struct {
	ID   string
	Role string
}

// ChatService 聊天核心服務
// 對話串、訊息、回執與即時推送的所有對外操作都經過這裡
type ChatService struct {
	threads  chatstore.ThreadRepository
	messages chatstore.MessageRepository
	hub      *delivery.Hub
	typing   *delivery.TypingTracker
	notifier Notifier
	audit    *AuditService
}

// NewChatService 創建聊天服務
func NewChatService(
	threads chatstore.ThreadRepository,
	messages chatstore.MessageRepository,
	hub *delivery.Hub,
	typing *delivery.TypingTracker,
	notifier Notifier,
	audit *AuditService,
) *ChatService {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	if audit == nil {
		audit = NewAuditService(false)
	}
	return &ChatService{
		threads:  threads,
		messages: messages,
		hub:      hub,
		typing:   typing,
		notifier: notifier,
		audit:    audit,
	}
}

// Hub 回傳事件廣播中心（串流端點訂閱用）
func (s *ChatService) Hub() *delivery.Hub {
	return s.hub
}

// validRoles 參與者允許的角色
var validRoles = map[string]bool{
	chatstore.RoleAdmin:   true,
	chatstore.RoleCoach:   true,
	chatstore.RoleAthlete: true,
}

// CreateThreadInput 創建對話串的輸入
type CreateThreadInput struct {
	Title        string
	Kind         string
	Participants []chatstore.Participant
}

// CreateThread 創建對話串
// 創建者必然是參與者；direct 對話串至多兩位參與者
func (s *ChatService) CreateThread(ctx context.Context, caller Caller, in CreateThreadInput) (*chatstore.Thread, error) {
	if err := middleware.ValidateThreadTitle(in.Title); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "對話串標題驗證失敗", err)
	}
	if in.Kind != chatstore.ThreadKindDirect && in.Kind != chatstore.ThreadKindGroup {
		return nil, apperr.Newf(apperr.KindValidation, "未知的對話串類型: %s", in.Kind)
	}
	if len(in.Participants) == 0 {
		return nil, apperr.New(apperr.KindValidation, "參與者不能為空")
	}

	seen := make(map[string]bool, len(in.Participants))
	callerIncluded := false
	now := time.Now().UTC()
	for i := range in.Participants {
		p := &in.Participants[i]
		if err := middleware.ValidateUserID(p.UserID); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "參與者 ID 驗證失敗", err)
		}
		if !validRoles[p.Role] {
			return nil, apperr.Newf(apperr.KindValidation, "未知的參與者角色: %s", p.Role)
		}
		if seen[p.UserID] {
			return nil, apperr.Newf(apperr.KindValidation, "參與者重複: %s", p.UserID)
		}
		seen[p.UserID] = true
		if p.UserID == caller.ID {
			callerIncluded = true
		}
		p.JoinedAt = now
		p.LastSeenAt = now
	}

	// 創建者不在名單內時自動加入
	if !callerIncluded {
		role := caller.Role
		if !validRoles[role] {
			role = chatstore.RoleCoach
		}
		in.Participants = append(in.Participants, chatstore.Participant{
			UserID:     caller.ID,
			Role:       role,
			JoinedAt:   now,
			LastSeenAt: now,
		})
	}

	if in.Kind == chatstore.ThreadKindDirect && len(in.Participants) > constants.DirectThreadParticipants {
		return nil, apperr.Newf(apperr.KindValidation,
			"direct 對話串至多 %d 位參與者", constants.DirectThreadParticipants)
	}

	thread := chatstore.NewThread()
	thread.Title = middleware.SanitizeInput(in.Title)
	thread.Kind = in.Kind
	thread.Participants = in.Participants
	thread.CreatedBy = caller.ID
	for _, p := range in.Participants {
		thread.Metadata.ActiveParticipantIDs = append(thread.Metadata.ActiveParticipantIDs, p.UserID)
	}

	if err := s.threads.Create(ctx, &thread); err != nil {
		return nil, err
	}

	s.audit.LogThreadCreation(ctx, caller.ID, thread.ID, thread.Kind)
	logger.Info(ctx, "對話串已創建",
		logger.WithThreadID(thread.ID),
		logger.WithUserID(caller.ID),
		logger.WithAction("create_thread"))

	return &thread, nil
}

// GetThread 獲取對話串，僅限參與者
func (s *ChatService) GetThread(ctx context.Context, caller Caller, threadID string) (*chatstore.Thread, error) {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return nil, err
	}
	return s.threads.GetByID(ctx, threadID)
}

// ListThreads 列出呼叫者的對話串
func (s *ChatService) ListThreads(
	ctx context.Context, caller Caller, limit int, cursor string, filter chatstore.ThreadFilter,
) ([]*chatstore.Thread, string, bool, error) {
	limit = clampLimit(limit)
	return s.threads.ListForUser(ctx, caller.ID, limit, cursor, filter)
}

// AddParticipant 添加參與者，僅限 admin 參與者或創建者
func (s *ChatService) AddParticipant(ctx context.Context, caller Caller, threadID, userID, role string) error {
	if err := middleware.ValidateUserID(userID); err != nil {
		return apperr.Wrap(apperr.KindValidation, "參與者 ID 驗證失敗", err)
	}
	if !validRoles[role] {
		return apperr.Newf(apperr.KindValidation, "未知的參與者角色: %s", role)
	}
	if err := s.requireThreadManager(ctx, threadID, caller); err != nil {
		return err
	}

	if err := s.threads.AddParticipant(ctx, threadID, &chatstore.Participant{
		UserID: userID,
		Role:   role,
	}); err != nil {
		return err
	}

	s.audit.LogMembershipChange(ctx, caller.ID, threadID, userID, "add_participant")
	s.emitSystemMessage(ctx, threadID, fmt.Sprintf("%s 加入了對話", userID))
	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventThreadUpdated, threadID, map[string]string{
		"change":  "participant_added",
		"user_id": userID,
	}), "")
	return nil
}

// RemoveParticipant 移除參與者，僅限 admin 參與者或創建者
func (s *ChatService) RemoveParticipant(ctx context.Context, caller Caller, threadID, userID string) error {
	if err := s.requireThreadManager(ctx, threadID, caller); err != nil {
		return err
	}

	if err := s.threads.RemoveParticipant(ctx, threadID, userID); err != nil {
		return err
	}

	s.audit.LogMembershipChange(ctx, caller.ID, threadID, userID, "remove_participant")
	s.emitSystemMessage(ctx, threadID, fmt.Sprintf("%s 離開了對話", userID))
	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventThreadUpdated, threadID, map[string]string{
		"change":  "participant_removed",
		"user_id": userID,
	}), "")
	return nil
}

// ArchiveThread 封存對話串（冪等），僅限 admin 參與者或創建者
func (s *ChatService) ArchiveThread(ctx context.Context, caller Caller, threadID string) error {
	if err := s.requireThreadManager(ctx, threadID, caller); err != nil {
		return err
	}

	if err := s.threads.Archive(ctx, threadID); err != nil {
		return err
	}

	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventThreadUpdated, threadID, map[string]string{
		"change": "archived",
	}), "")
	return nil
}

// AddVideoResponse 附加影片回覆到對話串
// 影片引用視為不透明，只做形狀檢查
func (s *ChatService) AddVideoResponse(ctx context.Context, caller Caller, threadID string, video *chatstore.VideoResponse) error {
	if video == nil || video.VideoID == "" {
		return apperr.New(apperr.KindValidation, "影片引用不能為空")
	}
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return err
	}

	if err := s.threads.AppendVideoResponse(ctx, threadID, video); err != nil {
		return err
	}

	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventThreadUpdated, threadID, map[string]string{
		"change":   "video_response_added",
		"video_id": video.VideoID,
	}), "")
	return nil
}

// UnreadCount 獲取用戶在對話串的未讀訊息數
func (s *ChatService) UnreadCount(ctx context.Context, caller Caller, threadID string) (int, error) {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return 0, err
	}
	return s.messages.UnreadCount(ctx, threadID, caller.ID)
}

// SetTyping 更新輸入中狀態，僅限參與者；狀態不落地
func (s *ChatService) SetTyping(ctx context.Context, caller Caller, threadID string, isTyping bool) error {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return err
	}
	s.typing.SetTyping(threadID, caller.ID, isTyping)
	return nil
}

// Subscribe 訂閱對話串事件，僅限參與者
func (s *ChatService) Subscribe(ctx context.Context, caller Caller, threadID, connectionID string) (*delivery.Session, error) {
	if err := s.requireParticipant(ctx, threadID, caller.ID); err != nil {
		return nil, err
	}
	if connectionID == "" {
		connectionID = uuid.New().String()
	}
	return s.hub.Subscribe(threadID, caller.ID, connectionID), nil
}

// Unsubscribe 取消訂閱
func (s *ChatService) Unsubscribe(session *delivery.Session) {
	s.hub.Unsubscribe(session)
}

// requireParticipant 授權原語：呼叫者必須是對話串參與者
func (s *ChatService) requireParticipant(ctx context.Context, threadID, userID string) error {
	ok, err := s.threads.IsParticipant(ctx, threadID, userID, "")
	if err != nil {
		return err
	}
	if !ok {
		// 對話串不存在回 NotFound，存在但非參與者回 Forbidden
		if _, getErr := s.threads.GetByID(ctx, threadID); getErr != nil {
			return getErr
		}
		return apperr.Newf(apperr.KindForbidden, "用戶 %s 不是對話串參與者", userID)
	}
	return nil
}

// requireThreadManager 授權原語：admin 參與者或對話串創建者
func (s *ChatService) requireThreadManager(ctx context.Context, threadID string, caller Caller) error {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.CreatedBy == caller.ID {
		return nil
	}
	isAdmin, err := s.threads.IsParticipant(ctx, threadID, caller.ID, chatstore.RoleAdmin)
	if err != nil {
		return err
	}
	if !isAdmin {
		return apperr.Newf(apperr.KindForbidden, "用戶 %s 無權管理此對話串", caller.ID)
	}
	return nil
}

// emitSystemMessage 寫入系統訊息並廣播；失敗只記錄不中斷主流程
func (s *ChatService) emitSystemMessage(ctx context.Context, threadID, content string) {
	message := &chatstore.Message{
		ID:       uuid.New().String(),
		ThreadID: threadID,
		SenderID: "system",
		Type:     chatstore.MessageTypeSystem,
		Content:  content,
		Status:   chatstore.MessageStatusSent,
	}
	if err := s.messages.Insert(ctx, message); err != nil {
		logger.Warningf(ctx, "寫入系統訊息失敗: %v", err)
		return
	}
	if err := s.threads.TouchLastMessage(ctx, threadID, message.CreatedAt, previewFor(message.Type, content)); err != nil {
		logger.Warningf(ctx, "更新對話串最後訊息失敗: %v", err)
	}
	s.hub.Publish(threadID, delivery.NewEvent(delivery.EventMessageCreated, threadID, message), "")
}

// clampLimit 套用分頁限制：預設 50，上限 100
func clampLimit(limit int) int {
	defaultSize := constants.DefaultPageSize
	maxSize := constants.MaxPageSize
	if cfg := config.Get(); cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultSize = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxSize = cfg.Limits.Pagination.MaxPageSize
		}
	}
	if limit <= 0 {
		return defaultSize
	}
	if limit > maxSize {
		return maxSize
	}
	return limit
}
