package database

import (
	"context"

	"coach-chat/internal/platform/logger"
	"coach-chat/internal/storage/database/chatstore"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Thread  chatstore.ThreadRepository
	Message chatstore.MessageRepository
}

// NewRepositories 創建倉儲集合.
func NewRepositories(db *mongo.Database) *Repositories {
	// 創建索引以優化查詢性能
	ctx := context.Background()
	if err := chatstore.CreateIndexes(ctx, db); err != nil {
		// 記錄錯誤但不中斷服務啟動
		logger.Warningf(ctx, "創建索引失敗: %v", err)
	}

	return &Repositories{
		Thread:  chatstore.NewThreadStore(db),
		Message: chatstore.NewMessageStore(db),
	}
}
