package delivery

import (
	"testing"
	"time"
)

const testThreadID = "507f1f77bcf86cd799439011"

// TestSubscribeAndPublish 測試訂閱後能收到廣播事件
func TestSubscribeAndPublish(t *testing.T) {
	hub := NewHub()

	session := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	defer hub.Unsubscribe(session)

	hub.Publish(testThreadID, NewEvent(EventMessageCreated, testThreadID, nil), "")

	select {
	case event := <-session.Events:
		if event.Type != EventMessageCreated {
			t.Fatalf("事件類型錯誤: 期望 %s, 實際 %s", EventMessageCreated, event.Type)
		}
		if event.ThreadID != testThreadID {
			t.Fatalf("對話串 ID 錯誤: %s", event.ThreadID)
		}
	case <-time.After(time.Second):
		t.Fatal("等待事件超時")
	}
}

// TestPublishExcludesSender 測試排除發起者的 session
func TestPublishExcludesSender(t *testing.T) {
	hub := NewHub()

	sender := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	receiver := hub.Subscribe(testThreadID, "user_bob", "conn_2")
	defer hub.Unsubscribe(sender)
	defer hub.Unsubscribe(receiver)

	hub.Publish(testThreadID, NewEvent(EventMessageCreated, testThreadID, nil), "user_alice")

	select {
	case <-receiver.Events:
	case <-time.After(time.Second):
		t.Fatal("接收者應收到事件")
	}

	select {
	case <-sender.Events:
		t.Fatal("發起者不應收到事件")
	default:
	}
}

// TestMultiDeviceFanout 測試同一用戶多裝置都收到事件
func TestMultiDeviceFanout(t *testing.T) {
	hub := NewHub()

	phone := hub.Subscribe(testThreadID, "user_alice", "conn_phone")
	laptop := hub.Subscribe(testThreadID, "user_alice", "conn_laptop")
	defer hub.Unsubscribe(phone)
	defer hub.Unsubscribe(laptop)

	hub.Publish(testThreadID, NewEvent(EventMessageCreated, testThreadID, nil), "")

	for _, session := range []*Session{phone, laptop} {
		select {
		case <-session.Events:
		case <-time.After(time.Second):
			t.Fatalf("裝置 %s 未收到事件", session.ConnectionID)
		}
	}
}

// TestResubscribeReplacesSession 測試相同鍵重複訂閱會取代舊 session
func TestResubscribeReplacesSession(t *testing.T) {
	hub := NewHub()

	old := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	replacement := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	defer hub.Unsubscribe(replacement)

	// 舊通道應已關閉
	select {
	case _, ok := <-old.Events:
		if ok {
			t.Fatal("舊 session 不應再收到事件")
		}
	case <-time.After(time.Second):
		t.Fatal("舊 session 的通道應已關閉")
	}

	if hub.SessionCount() != 1 {
		t.Fatalf("session 數量錯誤: %d", hub.SessionCount())
	}
}

// TestPublishDropsWhenBufferFull 測試緩衝滿時丟棄事件而不阻塞
func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(WithBuffer(1), WithPushTimeout(10*time.Millisecond))

	session := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	defer hub.Unsubscribe(session)

	done := make(chan struct{})
	go func() {
		// 無人消費，第二個事件應在超時後被丟棄
		hub.Publish(testThreadID, NewEvent(EventMessageCreated, testThreadID, nil), "")
		hub.Publish(testThreadID, NewEvent(EventMessageCreated, testThreadID, nil), "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish 不應長時間阻塞")
	}
}

// TestIsOnline 測試在線狀態查詢
func TestIsOnline(t *testing.T) {
	hub := NewHub()

	session := hub.Subscribe(testThreadID, "user_alice", "conn_1")

	if !hub.IsOnline(testThreadID, "user_alice") {
		t.Fatal("user_alice 應為在線")
	}
	if hub.IsOnline(testThreadID, "user_bob") {
		t.Fatal("user_bob 不應為在線")
	}

	hub.Unsubscribe(session)

	if hub.IsOnline(testThreadID, "user_alice") {
		t.Fatal("取消訂閱後不應為在線")
	}
}

// TestOnlineUsersDeduplicates 測試多裝置用戶只回報一次
func TestOnlineUsersDeduplicates(t *testing.T) {
	hub := NewHub()

	s1 := hub.Subscribe(testThreadID, "user_alice", "conn_1")
	s2 := hub.Subscribe(testThreadID, "user_alice", "conn_2")
	defer hub.Unsubscribe(s1)
	defer hub.Unsubscribe(s2)

	users := hub.OnlineUsers(testThreadID)
	if len(users) != 1 {
		t.Fatalf("在線用戶數量錯誤: 期望 1, 實際 %d", len(users))
	}
	if users[0] != "user_alice" {
		t.Fatalf("在線用戶錯誤: %s", users[0])
	}
}
