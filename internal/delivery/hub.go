package delivery

import (
	"context"
	"sync"
	"time"

	"coach-chat/internal/constants"
	"coach-chat/internal/platform/logger"
	"coach-chat/internal/platform/metrics"
)

// sessionKey 同一用戶可有多個裝置連線，以 (用戶, 連線) 為鍵
type sessionKey struct {
	userID       string
	connectionID string
}

// Session 單一訂閱者的事件通道
type Session struct {
	UserID       string
	ConnectionID string
	ThreadID     string
	Events       chan *Event

	closeOnce sync.Once
}

// close 關閉事件通道，冪等
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.Events)
	})
}

// Hub 管理對話串的即時訂閱與事件廣播
type Hub struct {
	mu       sync.RWMutex
	threads  map[string]map[sessionKey]*Session
	buffer   int
	pushWait time.Duration // 向單一 session 推送的最長等待時間
}

// HubOption Hub 建構選項
type HubOption func(*Hub)

// WithBuffer 設定每個 session 的事件緩衝大小
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithPushTimeout 設定推送超時
func WithPushTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pushWait = d
		}
	}
}

// NewHub 創建事件廣播中心
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		threads:  make(map[string]map[sessionKey]*Session),
		buffer:   constants.EventChannelBuffer,
		pushWait: constants.DefaultFanoutTimeoutMS * time.Millisecond,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe 訂閱對話串的即時事件
//
// 相同 (用戶, 連線) 重複訂閱會先關閉舊的 session
func (h *Hub) Subscribe(threadID, userID, connectionID string) *Session {
	session := &Session{
		UserID:       userID,
		ConnectionID: connectionID,
		ThreadID:     threadID,
		Events:       make(chan *Event, h.buffer),
	}

	key := sessionKey{userID: userID, connectionID: connectionID}

	h.mu.Lock()
	sessions, ok := h.threads[threadID]
	if !ok {
		sessions = make(map[sessionKey]*Session)
		h.threads[threadID] = sessions
	}
	if old, exists := sessions[key]; exists {
		old.close()
		metrics.ActiveSessions.Dec()
	}
	sessions[key] = session
	h.mu.Unlock()

	metrics.ActiveSessions.Inc()
	logger.Debug(context.Background(), "訂閱對話串事件",
		logger.WithThreadID(threadID),
		logger.WithUserID(userID))

	return session
}

// Unsubscribe 取消訂閱並關閉 session 的事件通道
func (h *Hub) Unsubscribe(session *Session) {
	if session == nil {
		return
	}

	key := sessionKey{userID: session.UserID, connectionID: session.ConnectionID}

	h.mu.Lock()
	sessions, ok := h.threads[session.ThreadID]
	if ok {
		if current, exists := sessions[key]; exists && current == session {
			delete(sessions, key)
			if len(sessions) == 0 {
				delete(h.threads, session.ThreadID)
			}
		} else {
			// session 已被相同鍵的新訂閱取代，不再持有註冊表項
			ok = false
		}
	}
	h.mu.Unlock()

	session.close()
	if ok {
		metrics.ActiveSessions.Dec()
	}
}

// Publish 向對話串的所有訂閱者廣播事件
//
// excludeUser 非空時跳過該用戶的所有 session（通常是事件的發起者）
// 單一 session 緩衝滿且超過 pushWait 仍無法寫入時丟棄該事件，
// 接收端需透過回補查詢補齊遺漏
func (h *Hub) Publish(threadID string, event *Event, excludeUser string) {
	// 整個發送迴圈持有讀鎖：Unsubscribe 需要寫鎖才能關閉通道，
	// 避免向已關閉的通道發送
	h.mu.RLock()
	defer h.mu.RUnlock()

	for key, s := range h.threads[threadID] {
		if excludeUser != "" && key.userID == excludeUser {
			continue
		}
		select {
		case s.Events <- event:
			metrics.EventsDelivered.WithLabelValues(event.Type).Inc()
		default:
			// 緩衝已滿，限時等待後丟棄
			timer := time.NewTimer(h.pushWait)
			select {
			case s.Events <- event:
				metrics.EventsDelivered.WithLabelValues(event.Type).Inc()
			case <-timer.C:
				metrics.EventsDropped.Inc()
				logger.Warning(context.Background(), "事件推送超時，已丟棄",
					logger.WithThreadID(threadID),
					logger.WithUserID(s.UserID),
					logger.WithAction(event.Type))
			}
			timer.Stop()
		}
	}
}

// IsOnline 檢查用戶在指定對話串是否有活躍 session
func (h *Hub) IsOnline(threadID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for key := range h.threads[threadID] {
		if key.userID == userID {
			return true
		}
	}
	return false
}

// OnlineUsers 回傳對話串當前在線的用戶（去重）
func (h *Hub) OnlineUsers(threadID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	users := make([]string, 0)
	for key := range h.threads[threadID] {
		if _, dup := seen[key.userID]; dup {
			continue
		}
		seen[key.userID] = struct{}{}
		users = append(users, key.userID)
	}
	return users
}

// SessionCount 回傳當前所有對話串的 session 總數
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, sessions := range h.threads {
		count += len(sessions)
	}
	return count
}
