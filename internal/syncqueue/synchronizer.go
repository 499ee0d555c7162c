package syncqueue

import (
	"context"
	"sync"
	"time"

	"coach-chat/internal/apperr"
	"coach-chat/internal/constants"
	"coach-chat/internal/platform/logger"
)

// Sender 重放時實際執行發送的傳輸層
// 伺服器依訊息 ID 去重，重複送達同一項目是安全的
type Sender interface {
	Send(ctx context.Context, item *Item) error
}

// SenderFunc 將函數適配為 Sender
type SenderFunc func(ctx context.Context, item *Item) error

func (f SenderFunc) Send(ctx context.Context, item *Item) error {
	return f(ctx, item)
}

// Result 一次重放的統計
type Result struct {
	Sent   int
	Failed int
}

// Synchronizer 重連後按入列順序重放離線佇列
// 各對話串並行重放，同一對話串內嚴格依序
type Synchronizer struct {
	queue       *Queue
	sender      Sender
	retryBase   time.Duration
	retryFactor int
	maxAttempts int
}

// SyncOption Synchronizer 的配置選項
type SyncOption func(*Synchronizer)

// WithRetryBase 設置首次重試的等待時間
func WithRetryBase(d time.Duration) SyncOption {
	return func(s *Synchronizer) {
		if d > 0 {
			s.retryBase = d
		}
	}
}

// WithRetryFactor 設置重試等待的倍增係數
func WithRetryFactor(factor int) SyncOption {
	return func(s *Synchronizer) {
		if factor > 0 {
			s.retryFactor = factor
		}
	}
}

// WithMaxAttempts 設置單一項目的最大嘗試次數
func WithMaxAttempts(n int) SyncOption {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewSynchronizer 創建佇列同步器
func NewSynchronizer(queue *Queue, sender Sender, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		queue:       queue,
		sender:      sender,
		retryBase:   time.Duration(constants.DefaultRetryBaseSeconds) * time.Second,
		retryFactor: constants.DefaultRetryFactor,
		maxAttempts: constants.DefaultMaxSendAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replay 重放所有對話串的待發送項目
// 瞬態錯誤按指數退避重試，其餘錯誤立即標記失敗
func (s *Synchronizer) Replay(ctx context.Context) Result {
	var (
		mu     sync.Mutex
		total  Result
		wg     sync.WaitGroup
		begin  = time.Now()
		before = s.queue.Len()
	)

	for _, threadID := range s.queue.Threads() {
		wg.Add(1)
		go func(threadID string) {
			defer wg.Done()
			result := s.replayThread(ctx, threadID)
			mu.Lock()
			total.Sent += result.Sent
			total.Failed += result.Failed
			mu.Unlock()
		}(threadID)
	}
	wg.Wait()

	if before > 0 {
		logger.Infof(ctx, "離線佇列重放完成: 送出 %d 筆, 失敗 %d 筆, 耗時 %s",
			total.Sent, total.Failed, time.Since(begin))
	}
	return total
}

// replayThread 依序重放單一對話串的佇列
func (s *Synchronizer) replayThread(ctx context.Context, threadID string) Result {
	var result Result
	for _, item := range s.queue.Pending(threadID) {
		select {
		case <-ctx.Done():
			return result
		default:
		}
		if s.sendWithRetry(ctx, item) {
			result.Sent++
		} else if item.Status == ItemStatusFailed {
			result.Failed++
		}
	}
	return result
}

// sendWithRetry 發送單一項目，瞬態錯誤在上限內退避重試
// 中途取消時項目回到 queued，留待下次重連重放
func (s *Synchronizer) sendWithRetry(ctx context.Context, item *Item) bool {
	delay := s.retryBase
	for {
		s.queue.markSending(item)

		err := s.sender.Send(ctx, item)
		if err == nil {
			s.queue.markSent(item)
			return true
		}

		if ctx.Err() != nil {
			s.queue.requeue(item)
			return false
		}

		// 驗證與授權類錯誤重試不會變成功
		if !apperr.IsTransient(err) {
			s.queue.markFailed(item, err)
			logger.Warningf(ctx, "離線訊息 %s 發送失敗: %v", item.ID, err)
			return false
		}

		if item.Attempts >= s.maxAttempts {
			s.queue.markFailed(item, err)
			logger.Warningf(ctx, "離線訊息 %s 重試 %d 次後放棄: %v", item.ID, item.Attempts, err)
			return false
		}

		select {
		case <-ctx.Done():
			s.queue.requeue(item)
			return false
		case <-time.After(delay):
		}
		delay *= time.Duration(s.retryFactor)
	}
}
