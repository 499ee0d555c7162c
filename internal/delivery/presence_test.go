package delivery

import (
	"testing"
	"time"
)

// TestSetTypingBroadcasts 測試輸入中狀態會廣播給其他訂閱者
func TestSetTypingBroadcasts(t *testing.T) {
	hub := NewHub()
	tracker := NewTypingTracker(hub, time.Minute)

	observer := hub.Subscribe(testThreadID, "user_bob", "conn_1")
	defer hub.Unsubscribe(observer)

	tracker.SetTyping(testThreadID, "user_alice", true)

	select {
	case event := <-observer.Events:
		if event.Type != EventTypingChanged {
			t.Fatalf("事件類型錯誤: %s", event.Type)
		}
		payload, ok := event.Payload.(*typingPayload)
		if !ok {
			t.Fatal("事件內容類型錯誤")
		}
		if payload.UserID != "user_alice" || !payload.IsTyping {
			t.Fatalf("事件內容錯誤: %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("等待輸入中事件超時")
	}

	if !tracker.IsTyping(testThreadID, "user_alice") {
		t.Fatal("user_alice 應為輸入中")
	}
}

// TestTypingExpires 測試逾時自動清除並廣播停止
func TestTypingExpires(t *testing.T) {
	hub := NewHub()
	tracker := NewTypingTracker(hub, 50*time.Millisecond)

	observer := hub.Subscribe(testThreadID, "user_bob", "conn_1")
	defer hub.Unsubscribe(observer)

	tracker.SetTyping(testThreadID, "user_alice", true)

	// 開始事件
	select {
	case <-observer.Events:
	case <-time.After(time.Second):
		t.Fatal("等待輸入中事件超時")
	}

	// 逾時後的停止事件
	select {
	case event := <-observer.Events:
		payload, ok := event.Payload.(*typingPayload)
		if !ok {
			t.Fatal("事件內容類型錯誤")
		}
		if payload.IsTyping {
			t.Fatal("逾時後應廣播停止輸入")
		}
	case <-time.After(time.Second):
		t.Fatal("等待逾時停止事件超時")
	}

	if tracker.IsTyping(testThreadID, "user_alice") {
		t.Fatal("逾時後不應為輸入中")
	}
}

// TestSetTypingFalseClearsState 測試明確停止輸入
func TestSetTypingFalseClearsState(t *testing.T) {
	hub := NewHub()
	tracker := NewTypingTracker(hub, time.Minute)

	tracker.SetTyping(testThreadID, "user_alice", true)
	tracker.SetTyping(testThreadID, "user_alice", false)

	if tracker.IsTyping(testThreadID, "user_alice") {
		t.Fatal("停止後不應為輸入中")
	}

	users := tracker.TypingUsers(testThreadID)
	if len(users) != 0 {
		t.Fatalf("輸入中用戶數量錯誤: %d", len(users))
	}
}

// TestTypingRefreshExtendsTTL 測試重複更新會重設逾時
func TestTypingRefreshExtendsTTL(t *testing.T) {
	hub := NewHub()
	tracker := NewTypingTracker(hub, 80*time.Millisecond)

	tracker.SetTyping(testThreadID, "user_alice", true)
	time.Sleep(50 * time.Millisecond)
	tracker.SetTyping(testThreadID, "user_alice", true)
	time.Sleep(50 * time.Millisecond)

	// 第一次的 TTL 已過，但第二次更新重設了計時器
	if !tracker.IsTyping(testThreadID, "user_alice") {
		t.Fatal("更新後逾時應被重設")
	}
}
