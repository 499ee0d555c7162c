package syncqueue

import (
	"sync"
	"time"

	"coach-chat/internal/apperr"
	"coach-chat/internal/storage/database/chatstore"
)

// 離線項目狀態
const (
	ItemStatusQueued  = "queued"
	ItemStatusSending = "sending"
	ItemStatusSent    = "sent"
	ItemStatusFailed  = "failed"
)

// Item 離線佇列中的待發送訊息
// ID 是客戶端生成的冪等鍵，重放時伺服器依此去重
type Item struct {
	ID         string
	ThreadID   string
	Type       string
	Content    string
	Metadata   chatstore.MessageMetadata
	ReplyTo    string
	Status     string
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// Queue 按對話串分組的先進先出離線佇列
// 斷線期間的發送全部入列，重連後由 Synchronizer 依入列順序重放
type Queue struct {
	mu      sync.Mutex
	threads map[string][]*Item
	byID    map[string]*Item
}

// NewQueue 創建空的離線佇列
func NewQueue() *Queue {
	return &Queue{
		threads: make(map[string][]*Item),
		byID:    make(map[string]*Item),
	}
}

// Enqueue 將訊息加入所屬對話串的佇列尾端
// 同一 ID 重複入列視為重試同一筆，回傳已存在的項目
func (q *Queue) Enqueue(item *Item) (*Item, error) {
	if item.ID == "" {
		return nil, apperr.New(apperr.KindValidation, "離線訊息必須帶有客戶端生成的 ID")
	}
	if item.ThreadID == "" {
		return nil, apperr.New(apperr.KindValidation, "離線訊息必須帶有對話串 ID")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[item.ID]; ok {
		// 失敗的項目重新入列時回到佇列尾端重新計數
		if existing.Status == ItemStatusFailed {
			existing.Status = ItemStatusQueued
			existing.Attempts = 0
			existing.LastError = ""
			q.threads[existing.ThreadID] = append(q.threads[existing.ThreadID], existing)
		}
		return existing, nil
	}

	item.Status = ItemStatusQueued
	item.Attempts = 0
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.threads[item.ThreadID] = append(q.threads[item.ThreadID], item)
	q.byID[item.ID] = item
	return item, nil
}

// Get 依 ID 查詢項目
func (q *Queue) Get(id string) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.byID[id]
	return item, ok
}

// Threads 回傳目前有待發送項目的對話串 ID
func (q *Queue) Threads() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.threads))
	for threadID, items := range q.threads {
		if len(items) > 0 {
			ids = append(ids, threadID)
		}
	}
	return ids
}

// Pending 回傳指定對話串中仍待發送的項目，按入列順序
func (q *Queue) Pending(threadID string) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*Item
	for _, item := range q.threads[threadID] {
		if item.Status == ItemStatusQueued {
			pending = append(pending, item)
		}
	}
	return pending
}

// Len 回傳所有對話串的待發送項目總數
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, items := range q.threads {
		for _, item := range items {
			if item.Status == ItemStatusQueued {
				total++
			}
		}
	}
	return total
}

// markSending 將項目標記為發送中並遞增嘗試次數
func (q *Queue) markSending(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = ItemStatusSending
	item.Attempts++
}

// markSent 將項目標記為已送出並從佇列移除
func (q *Queue) markSent(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = ItemStatusSent
	q.remove(item)
}

// markFailed 將項目標記為失敗並從佇列移除
// 失敗是終態，重送需以同一 ID 重新入列
func (q *Queue) markFailed(item *Item, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = ItemStatusFailed
	if err != nil {
		item.LastError = err.Error()
	}
	q.remove(item)
}

// requeue 中斷時將發送中的項目放回 queued，保留佇列位置
func (q *Queue) requeue(item *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = ItemStatusQueued
}

// remove 從對話串佇列移除項目，呼叫方必須持有鎖
// byID 保留記錄讓客戶端查詢最終狀態
func (q *Queue) remove(item *Item) {
	items := q.threads[item.ThreadID]
	for i, candidate := range items {
		if candidate.ID == item.ID {
			q.threads[item.ThreadID] = append(items[:i], items[i+1:]...)
			break
		}
	}
	if len(q.threads[item.ThreadID]) == 0 {
		delete(q.threads, item.ThreadID)
	}
}
