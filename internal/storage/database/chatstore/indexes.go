package chatstore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 訊息集合索引
	messagesCollection := db.Collection("messages")

	// 1. 訊息 ID 唯一索引（發送端指定 ID 的冪等基礎）
	messageIDIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("message_id_idx").SetUnique(true),
	}

	// 2. 對話串 ID + 創建時間 + ID 複合索引（歷史分頁的排序鍵）
	threadTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "thread_id", Value: 1},
			{Key: "created_at", Value: -1},
			{Key: "id", Value: -1},
		},
		Options: options.Index().SetName("thread_time_idx"),
	}

	// 3. 發送者 ID + 創建時間索引
	senderTimeIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
		Options: options.Index().SetName("sender_time_idx"),
	}

	// 4. 已讀狀態索引（未讀數量查詢）
	readStatusIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "thread_id", Value: 1},
			{Key: "read_by.user_id", Value: 1},
		},
		Options: options.Index().SetName("read_status_idx"),
	}

	messageIndexes := []mongo.IndexModel{
		messageIDIndex,
		threadTimeIndex,
		senderTimeIndex,
		readStatusIndex,
	}

	if _, err := messagesCollection.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	// 對話串集合索引
	threadsCollection := db.Collection("threads")

	// 1. 對話串 ID 唯一索引
	threadIDIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "id", Value: 1},
		},
		Options: options.Index().SetName("thread_id_idx").SetUnique(true),
	}

	// 2. 參與者用戶 ID 索引（授權檢查與列表查詢）
	participantIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "participants.user_id", Value: 1},
		},
		Options: options.Index().SetName("participant_idx"),
	}

	// 3. 最後訊息時間索引（列表排序）
	lastMessageIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "last_message_at", Value: -1},
			{Key: "id", Value: -1},
		},
		Options: options.Index().SetName("last_message_idx"),
	}

	// 4. 類型索引
	threadKindIndex := mongo.IndexModel{
		Keys: bson.D{
			{Key: "kind", Value: 1},
		},
		Options: options.Index().SetName("thread_kind_idx"),
	}

	threadIndexes := []mongo.IndexModel{
		threadIDIndex,
		participantIndex,
		lastMessageIndex,
		threadKindIndex,
	}

	if _, err := threadsCollection.Indexes().CreateMany(ctx, threadIndexes); err != nil {
		return err
	}

	return nil
}
