package chatstore

import (
	"context"
	"errors"
	"time"

	"coach-chat/internal/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 訊息類型常數
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeVoice    = "voice"
	MessageTypeFile     = "file"
	MessageTypeLocation = "location"
	MessageTypeSystem   = "system"
)

// 訊息狀態常數
// 狀態只會沿 sending -> sent -> delivered -> read 前進，
// failed / deleted 是任一非終態都可進入的終態
const (
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
	MessageStatusDeleted   = "deleted"
)

// MessageRepository 訊息倉儲接口
type MessageRepository interface {
	Insert(ctx context.Context, message *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	ListByThread(ctx context.Context, threadID string, limit int, cursor string) ([]*Message, string, bool, error)
	AppendDeliveredTo(ctx context.Context, messageID, userID string) (bool, error)
	AppendReadBy(ctx context.Context, messageID, userID string) (bool, error)
	AdvanceStatus(ctx context.Context, messageID, from, to string) (bool, error)
	SoftDelete(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	UnreadCount(ctx context.Context, threadID, userID string) (int, error)
}

// Message 訊息數據模型
// ID 由發送端指定，讓重送在伺服器端冪等
type Message struct {
	ID          string          `bson:"id" json:"id"`
	ThreadID    string          `bson:"thread_id" json:"thread_id"`
	SenderID    string          `bson:"sender_id" json:"sender_id"`
	Type        string          `bson:"type" json:"type"`
	Content     string          `bson:"content" json:"content"`
	Status      string          `bson:"status" json:"status"`
	ReadBy      []Receipt       `bson:"read_by" json:"read_by"`
	DeliveredTo []Receipt       `bson:"delivered_to" json:"delivered_to"`
	Metadata    MessageMetadata `bson:"metadata" json:"metadata"`
	ReplyTo     string          `bson:"reply_to,omitempty" json:"reply_to,omitempty"`
	Reactions   []Reaction      `bson:"reactions,omitempty" json:"reactions,omitempty"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `bson:"updated_at" json:"updated_at"`
}

// Receipt 單一接收者的回執（送達或已讀），每個 userID 至多一筆
type Receipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	At     time.Time `bson:"at" json:"at"`
}

// Reaction 訊息表情反應
type Reaction struct {
	UserID string    `bson:"user_id" json:"user_id"`
	Emoji  string    `bson:"emoji" json:"emoji"`
	At     time.Time `bson:"at" json:"at"`
}

// MessageMetadata 訊息元數據（依類型使用不同欄位）
type MessageMetadata struct {
	MimeType    string  `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	Thumbnail   string  `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	Width       int32   `bson:"width,omitempty" json:"width,omitempty"`
	Height      int32   `bson:"height,omitempty" json:"height,omitempty"`
	Duration    float64 `bson:"duration,omitempty" json:"duration,omitempty"`
	Transcoding bool    `bson:"transcoding,omitempty" json:"transcoding,omitempty"`
	Latitude    float64 `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude   float64 `bson:"longitude,omitempty" json:"longitude,omitempty"`
}

// MessageStore 訊息存儲實作
type MessageStore struct {
	collection *mongo.Collection
}

// NewMessageStore 創建新的訊息存儲
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{
		collection: db.Collection("messages"),
	}
}

// Insert 創建訊息
// id 有唯一索引；撞上重複鍵回傳 Conflict，由呼叫端改走冪等路徑
func (s *MessageStore) Insert(ctx context.Context, message *Message) error {
	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	// 初始化回執列表
	if message.ReadBy == nil {
		message.ReadBy = []Receipt{}
	}
	if message.DeliveredTo == nil {
		message.DeliveredTo = []Receipt{}
	}

	_, err := s.collection.InsertOne(ctx, message)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Newf(apperr.KindConflict, "message %s already exists", message.ID)
		}
		return apperr.Wrap(apperr.KindTransient, "insert message", err)
	}
	return nil
}

// GetByID 根據 ID 獲取訊息
func (s *MessageStore) GetByID(ctx context.Context, id string) (*Message, error) {
	var message Message
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&message)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Newf(apperr.KindNotFound, "message %s not found", id)
		}
		return nil, apperr.Wrap(apperr.KindTransient, "find message", err)
	}
	return &message, nil
}

// ListByThread 獲取對話串的訊息，按 (created_at, id) 倒序的游標分頁
func (s *MessageStore) ListByThread(
	ctx context.Context, threadID string, limit int, cursor string,
) (
	messages []*Message, nextCursor string, hasMore bool, err error,
) {
	filter := bson.M{"thread_id": threadID}

	// 如果有游標，只取嚴格早於游標位置的訊息
	if cursor != "" {
		at, id, decodeErr := DecodeCursor(cursor)
		if decodeErr != nil {
			return nil, "", false, decodeErr
		}
		filter["$or"] = olderThan("created_at", at, id)
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "id", Value: -1}})

	cursorResult, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, "", false, apperr.Wrap(apperr.KindTransient, "list messages", err)
	}
	defer cursorResult.Close(ctx)

	messages = []*Message{}
	for cursorResult.Next(ctx) {
		var message Message
		if err := cursorResult.Decode(&message); err != nil {
			return nil, "", false, apperr.Wrap(apperr.KindTransient, "decode message", err)
		}
		messages = append(messages, &message)
	}

	// 檢查是否有更多數據
	hasMore = len(messages) > limit
	if hasMore {
		messages = messages[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(messages) > 0 {
		last := messages[len(messages)-1]
		nextCursor = EncodeCursor(last.CreatedAt, last.ID)
	}

	return messages, nextCursor, hasMore, nil
}

// AppendDeliveredTo 追加送達回執
// 過濾條件排除已有回執的訊息，所以不會產生重複；回傳是否實際寫入
func (s *MessageStore) AppendDeliveredTo(ctx context.Context, messageID, userID string) (bool, error) {
	return s.appendReceipt(ctx, messageID, userID, "delivered_to")
}

// AppendReadBy 追加已讀回執
func (s *MessageStore) AppendReadBy(ctx context.Context, messageID, userID string) (bool, error) {
	return s.appendReceipt(ctx, messageID, userID, "read_by")
}

// appendReceipt 回執追加的共用實作（append-if-absent，並發下可交換）
func (s *MessageStore) appendReceipt(ctx context.Context, messageID, userID, field string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":                messageID,
		field + ".user_id": bson.M{"$ne": userID},
	}, bson.M{
		"$push": bson.M{field: Receipt{UserID: userID, At: now}},
		"$set":  bson.M{"updated_at": now},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "append receipt", err)
	}
	return result.ModifiedCount > 0, nil
}

// AdvanceStatus 條件式推進訊息狀態
// 只在當前狀態仍為 from 時寫入 to，避免晚到的送達回執把已讀退回送達
func (s *MessageStore) AdvanceStatus(ctx context.Context, messageID, from, to string) (bool, error) {
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":     messageID,
		"status": from,
	}, bson.M{
		"$set": bson.M{"status": to, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "advance status", err)
	}
	return result.ModifiedCount > 0, nil
}

// SoftDelete 軟刪除訊息
// 保留記錄維持對話串一致性，但清空內容；deleted 是終態
func (s *MessageStore) SoftDelete(ctx context.Context, messageID string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":     messageID,
		"status": bson.M{"$ne": MessageStatusDeleted},
	}, bson.M{
		"$set": bson.M{
			"status":     MessageStatusDeleted,
			"content":    "",
			"updated_at": time.Now().UTC(),
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "soft delete message", err)
	}
	if result.MatchedCount == 0 {
		// 已刪除視為冪等成功，完全不存在才是 NotFound
		exists, existsErr := s.collection.CountDocuments(ctx, bson.M{"id": messageID})
		if existsErr != nil {
			return apperr.Wrap(apperr.KindTransient, "count message", existsErr)
		}
		if exists == 0 {
			return apperr.Newf(apperr.KindNotFound, "message %s not found", messageID)
		}
	}
	return nil
}

// ToggleReaction 切換表情反應
// 同一用戶重複同一 emoji 視為取消；回傳 true 表示新增、false 表示移除
func (s *MessageStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	now := time.Now().UTC()

	// 先嘗試移除既有的同 (user, emoji) 反應
	// 不能同時 $set updated_at，否則 ModifiedCount 無法分辨是否真的移除了
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": messageID}, bson.M{
		"$pull": bson.M{"reactions": bson.M{"user_id": userID, "emoji": emoji}},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "remove reaction", err)
	}
	if result.MatchedCount == 0 {
		return false, apperr.Newf(apperr.KindNotFound, "message %s not found", messageID)
	}
	if result.ModifiedCount > 0 {
		return false, nil
	}

	// 沒有可移除的，追加新反應
	_, err = s.collection.UpdateOne(ctx, bson.M{"id": messageID}, bson.M{
		"$push": bson.M{"reactions": Reaction{UserID: userID, Emoji: emoji, At: now}},
		"$set":  bson.M{"updated_at": now},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "add reaction", err)
	}
	return true, nil
}

// UnreadCount 獲取用戶在對話串中的未讀訊息數量
// 未讀定義為 read_by 不含該用戶且非本人發送的訊息
func (s *MessageStore) UnreadCount(ctx context.Context, threadID, userID string) (int, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"thread_id":       threadID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID},
		"status":          bson.M{"$ne": MessageStatusDeleted},
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, "count unread", err)
	}
	return int(count), nil
}
