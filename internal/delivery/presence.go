package delivery

import (
	"sync"
	"time"

	"coach-chat/internal/constants"
)

// typingKey 以 (對話串, 用戶) 記錄輸入中狀態
type typingKey struct {
	threadID string
	userID   string
}

// TypingTracker 追蹤輸入中狀態，逾時自動清除並廣播
type TypingTracker struct {
	mu     sync.Mutex
	timers map[typingKey]*time.Timer
	ttl    time.Duration
	hub    *Hub
}

// NewTypingTracker 創建輸入狀態追蹤器
func NewTypingTracker(hub *Hub, ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = constants.DefaultTypingTTLSeconds * time.Second
	}
	return &TypingTracker{
		timers: make(map[typingKey]*time.Timer),
		ttl:    ttl,
		hub:    hub,
	}
}

// typingPayload typing.changed 事件的內容
type typingPayload struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// SetTyping 更新用戶在對話串的輸入中狀態並廣播
//
// isTyping 為 true 時重設逾時計時器，逾時未更新則自動廣播停止
func (t *TypingTracker) SetTyping(threadID, userID string, isTyping bool) {
	key := typingKey{threadID: threadID, userID: userID}

	t.mu.Lock()
	if timer, exists := t.timers[key]; exists {
		timer.Stop()
		delete(t.timers, key)
	}

	if isTyping {
		t.timers[key] = time.AfterFunc(t.ttl, func() {
			t.expire(key)
		})
	}
	t.mu.Unlock()

	t.hub.Publish(threadID,
		NewEvent(EventTypingChanged, threadID, &typingPayload{UserID: userID, IsTyping: isTyping}),
		userID)
}

// IsTyping 檢查用戶是否在輸入中
func (t *TypingTracker) IsTyping(threadID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.timers[typingKey{threadID: threadID, userID: userID}]
	return exists
}

// TypingUsers 回傳對話串當前輸入中的用戶
func (t *TypingTracker) TypingUsers(threadID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0)
	for key := range t.timers {
		if key.threadID == threadID {
			users = append(users, key.userID)
		}
	}
	return users
}

// expire 逾時清除輸入中狀態並廣播停止
func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	if _, exists := t.timers[key]; !exists {
		// 已被後續更新清除
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	t.hub.Publish(key.threadID,
		NewEvent(EventTypingChanged, key.threadID, &typingPayload{UserID: key.userID, IsTyping: false}),
		key.userID)
}
