package chatstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coach-chat/internal/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 對話串類型常數
const (
	ThreadKindDirect = "direct"
	ThreadKindGroup  = "group"
)

// 參與者角色常數
const (
	RoleAdmin   = "admin"
	RoleCoach   = "coach"
	RoleAthlete = "athlete"
)

// ThreadRepository 對話串倉儲接口
type ThreadRepository interface {
	Create(ctx context.Context, thread *Thread) error
	GetByID(ctx context.Context, id string) (*Thread, error)
	IsParticipant(ctx context.Context, threadID, userID, role string) (bool, error)
	AddParticipant(ctx context.Context, threadID string, p *Participant) error
	RemoveParticipant(ctx context.Context, threadID, userID string) error
	Archive(ctx context.Context, threadID string) error
	ListForUser(ctx context.Context, userID string, limit int, cursor string, filter ThreadFilter) ([]*Thread, string, bool, error)
	TouchLastMessage(ctx context.Context, threadID string, at time.Time, preview string) error
	AppendVideoResponse(ctx context.Context, threadID string, video *VideoResponse) error
}

// Thread 對話串數據模型
type Thread struct {
	ID            string         `bson:"id" json:"id"`
	Title         string         `bson:"title" json:"title"`
	Kind          string         `bson:"kind" json:"kind"`
	Participants  []Participant  `bson:"participants" json:"participants"`
	CreatedBy     string         `bson:"created_by" json:"created_by"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
	LastMessageAt time.Time      `bson:"last_message_at" json:"last_message_at"`
	LastMessage   string         `bson:"last_message,omitempty" json:"last_message,omitempty"`
	Metadata      ThreadMetadata `bson:"metadata" json:"metadata"`
	IsArchived    bool           `bson:"is_archived" json:"is_archived"`
}

// Participant 對話串參與者
type Participant struct {
	UserID     string    `bson:"user_id" json:"user_id"`
	Role       string    `bson:"role" json:"role"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at"`
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`
}

// ThreadMetadata 對話串元數據
type ThreadMetadata struct {
	VideoResponses       []VideoResponse `bson:"video_responses,omitempty" json:"video_responses,omitempty"`
	ActiveParticipantIDs []string        `bson:"active_participant_ids,omitempty" json:"active_participant_ids,omitempty"`
	LastActivityAt       time.Time       `bson:"last_activity_at" json:"last_activity_at"`
}

// VideoResponse 附加在對話串上的影片回覆
// 影片本身由外部媒體服務處理，這裡只保存已解析的引用
type VideoResponse struct {
	VideoID   string    `bson:"video_id" json:"video_id"`
	Thumbnail string    `bson:"thumbnail" json:"thumbnail"`
	Duration  float64   `bson:"duration,omitempty" json:"duration,omitempty"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// ThreadFilter 對話串列表過濾條件
type ThreadFilter struct {
	Kind       string
	IsArchived *bool
}

// NewThread 創建新的 Thread 實例
func NewThread() Thread {
	now := time.Now().UTC()
	return Thread{
		ID:            bson.NewObjectID().Hex(),
		CreatedAt:     now,
		LastMessageAt: now,
		Metadata:      ThreadMetadata{LastActivityAt: now},
	}
}

// ThreadStore 對話串存儲實作
type ThreadStore struct {
	collection *mongo.Collection
}

// NewThreadStore 創建新的對話串存儲
func NewThreadStore(db *mongo.Database) *ThreadStore {
	return &ThreadStore{
		collection: db.Collection("threads"),
	}
}

// Create 創建對話串
func (s *ThreadStore) Create(ctx context.Context, thread *Thread) error {
	if thread.ID == "" {
		thread.ID = bson.NewObjectID().Hex()
	}
	now := time.Now().UTC()
	thread.CreatedAt = now
	thread.LastMessageAt = now
	thread.Metadata.LastActivityAt = now

	if _, err := s.collection.InsertOne(ctx, thread); err != nil {
		return apperr.Wrap(apperr.KindTransient, "insert thread", err)
	}
	return nil
}

// GetByID 根據 ID 獲取對話串
func (s *ThreadStore) GetByID(ctx context.Context, id string) (*Thread, error) {
	var thread Thread
	err := s.collection.FindOne(ctx, bson.M{"id": id}).Decode(&thread)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Newf(apperr.KindNotFound, "thread %s not found", id)
		}
		return nil, apperr.Wrap(apperr.KindTransient, "find thread", err)
	}
	return &thread, nil
}

// IsParticipant 檢查用戶是否是對話串參與者
// role 非空時額外比對角色；這是其他元件統一使用的授權原語
func (s *ThreadStore) IsParticipant(ctx context.Context, threadID, userID, role string) (bool, error) {
	elem := bson.M{"user_id": userID}
	if role != "" {
		elem["role"] = role
	}
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"id":           threadID,
		"participants": bson.M{"$elemMatch": elem},
	})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, "count participants", err)
	}
	return count > 0, nil
}

// AddParticipant 添加參與者
// 已存在時回傳 Conflict；成功時同步推進 last_activity_at
func (s *ThreadStore) AddParticipant(ctx context.Context, threadID string, p *Participant) error {
	now := time.Now().UTC()
	p.JoinedAt = now
	p.LastSeenAt = now

	// 過濾條件排除已是參與者的情況，避免重複加入
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"id":                    threadID,
		"participants.user_id": bson.M{"$ne": p.UserID},
	}, bson.M{
		"$push": bson.M{"participants": p},
		"$max":  bson.M{"metadata.last_activity_at": now},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "add participant", err)
	}

	if result.MatchedCount == 0 {
		// 分辨「對話串不存在」與「已是參與者」
		exists, existsErr := s.exists(ctx, threadID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
		}
		return apperr.Newf(apperr.KindConflict, "user %s is already a participant", p.UserID)
	}
	return nil
}

// RemoveParticipant 移除參與者
// 移除最後一位參與者是允許的，對話串成為孤兒而非自動刪除
func (s *ThreadStore) RemoveParticipant(ctx context.Context, threadID, userID string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": threadID}, bson.M{
		"$pull": bson.M{"participants": bson.M{"user_id": userID}},
		"$max":  bson.M{"metadata.last_activity_at": time.Now().UTC()},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "remove participant", err)
	}
	if result.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	if result.ModifiedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "user %s is not a participant", userID)
	}
	return nil
}

// Archive 封存對話串（冪等）
func (s *ThreadStore) Archive(ctx context.Context, threadID string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": threadID}, bson.M{
		"$set": bson.M{"is_archived": true},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "archive thread", err)
	}
	if result.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	return nil
}

// ListForUser 列出用戶的對話串，按 last_message_at 倒序的游標分頁
func (s *ThreadStore) ListForUser(
	ctx context.Context, userID string, limit int, cursor string, filter ThreadFilter,
) (
	threads []*Thread, nextCursor string, hasMore bool, err error,
) {
	query := bson.M{
		"participants.user_id": userID,
	}
	if filter.Kind != "" {
		query["kind"] = filter.Kind
	}
	if filter.IsArchived != nil {
		query["is_archived"] = *filter.IsArchived
	}

	opts := options.Find()
	opts.SetLimit(int64(limit + 1)) // 多取一個用於判斷是否有更多
	opts.SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "id", Value: -1}})

	// 如果有游標，只取比游標更舊的對話串
	if cursor != "" {
		at, id, decodeErr := DecodeCursor(cursor)
		if decodeErr != nil {
			return nil, "", false, decodeErr
		}
		query["$or"] = olderThan("last_message_at", at, id)
	}

	cursorResult, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, "", false, apperr.Wrap(apperr.KindTransient, "list threads", err)
	}
	defer cursorResult.Close(ctx)

	threads = []*Thread{}
	for cursorResult.Next(ctx) {
		var thread Thread
		if err := cursorResult.Decode(&thread); err != nil {
			return nil, "", false, apperr.Wrap(apperr.KindTransient, "decode thread", err)
		}
		threads = append(threads, &thread)
	}

	// 檢查是否有更多數據
	hasMore = len(threads) > limit
	if hasMore {
		threads = threads[:limit] // 移除多取的那一個
	}

	// 生成下一個游標
	if hasMore && len(threads) > 0 {
		last := threads[len(threads)-1]
		nextCursor = EncodeCursor(last.LastMessageAt, last.ID)
	}

	return threads, nextCursor, hasMore, nil
}

// TouchLastMessage 推進對話串的最後訊息時間
// 使用 $max 保證 last_message_at / last_activity_at 單調不減
func (s *ThreadStore) TouchLastMessage(ctx context.Context, threadID string, at time.Time, preview string) error {
	update := bson.M{
		"$max": bson.M{
			"last_message_at":           at,
			"metadata.last_activity_at": at,
		},
	}
	if preview != "" {
		update["$set"] = bson.M{"last_message": preview}
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"id": threadID}, update)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "touch last message", err)
	}
	return nil
}

// AppendVideoResponse 附加影片回覆到對話串元數據
func (s *ThreadStore) AppendVideoResponse(ctx context.Context, threadID string, video *VideoResponse) error {
	video.AddedAt = time.Now().UTC()
	result, err := s.collection.UpdateOne(ctx, bson.M{"id": threadID}, bson.M{
		"$push": bson.M{"metadata.video_responses": video},
		"$max":  bson.M{"metadata.last_activity_at": video.AddedAt},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, "append video response", err)
	}
	if result.MatchedCount == 0 {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	return nil
}

// exists 檢查對話串是否存在
func (s *ThreadStore) exists(ctx context.Context, threadID string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"id": threadID})
	if err != nil {
		return false, apperr.Wrap(apperr.KindTransient, fmt.Sprintf("count thread %s", threadID), err)
	}
	return count > 0, nil
}
