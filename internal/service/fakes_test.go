package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"coach-chat/internal/apperr"
	"coach-chat/internal/storage/database/chatstore"
)

// fakeThreadRepo 記憶體版對話串倉儲，語義對齊 mongo 實作
type fakeThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*chatstore.Thread
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{threads: make(map[string]*chatstore.Thread)}
}

func (r *fakeThreadRepo) Create(_ context.Context, thread *chatstore.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
		thread.LastMessageAt = now
	}
	copied := *thread
	r.threads[thread.ID] = &copied
	return nil
}

func (r *fakeThreadRepo) GetByID(_ context.Context, id string) (*chatstore.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "thread %s not found", id)
	}
	copied := *thread
	return &copied, nil
}

func (r *fakeThreadRepo) IsParticipant(_ context.Context, threadID, userID, role string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return false, nil
	}
	for _, p := range thread.Participants {
		if p.UserID == userID && (role == "" || p.Role == role) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeThreadRepo) AddParticipant(_ context.Context, threadID string, p *chatstore.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	for _, existing := range thread.Participants {
		if existing.UserID == p.UserID {
			return apperr.Newf(apperr.KindConflict, "user %s is already a participant", p.UserID)
		}
	}
	now := time.Now().UTC()
	p.JoinedAt = now
	p.LastSeenAt = now
	thread.Participants = append(thread.Participants, *p)
	return nil
}

func (r *fakeThreadRepo) RemoveParticipant(_ context.Context, threadID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	for i, p := range thread.Participants {
		if p.UserID == userID {
			thread.Participants = append(thread.Participants[:i], thread.Participants[i+1:]...)
			return nil
		}
	}
	return apperr.Newf(apperr.KindNotFound, "user %s is not a participant", userID)
}

func (r *fakeThreadRepo) Archive(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	thread.IsArchived = true
	return nil
}

func (r *fakeThreadRepo) ListForUser(
	_ context.Context, userID string, limit int, cursor string, filter chatstore.ThreadFilter,
) ([]*chatstore.Thread, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*chatstore.Thread, 0)
	for _, thread := range r.threads {
		isMember := false
		for _, p := range thread.Participants {
			if p.UserID == userID {
				isMember = true
				break
			}
		}
		if !isMember {
			continue
		}
		if filter.Kind != "" && thread.Kind != filter.Kind {
			continue
		}
		if filter.IsArchived != nil && thread.IsArchived != *filter.IsArchived {
			continue
		}
		copied := *thread
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastMessageAt.Equal(matched[j].LastMessageAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].LastMessageAt.After(matched[j].LastMessageAt)
	})

	if cursor != "" {
		at, id, err := chatstore.DecodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		filtered := matched[:0]
		for _, thread := range matched {
			if thread.LastMessageAt.Before(at) ||
				(thread.LastMessageAt.Equal(at) && thread.ID < id) {
				filtered = append(filtered, thread)
			}
		}
		matched = filtered
	}

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	nextCursor := ""
	if hasMore && len(matched) > 0 {
		last := matched[len(matched)-1]
		nextCursor = chatstore.EncodeCursor(last.LastMessageAt, last.ID)
	}
	return matched, nextCursor, hasMore, nil
}

func (r *fakeThreadRepo) TouchLastMessage(_ context.Context, threadID string, at time.Time, preview string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return nil
	}
	if at.After(thread.LastMessageAt) {
		thread.LastMessageAt = at
	}
	if at.After(thread.Metadata.LastActivityAt) {
		thread.Metadata.LastActivityAt = at
	}
	if preview != "" {
		thread.LastMessage = preview
	}
	return nil
}

func (r *fakeThreadRepo) AppendVideoResponse(_ context.Context, threadID string, video *chatstore.VideoResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread, ok := r.threads[threadID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "thread %s not found", threadID)
	}
	video.AddedAt = time.Now().UTC()
	thread.Metadata.VideoResponses = append(thread.Metadata.VideoResponses, *video)
	return nil
}

// fakeMessageRepo 記憶體版訊息倉儲
// 以遞增時間戳保證 (created_at, id) 總序
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*chatstore.Message
	clock    time.Time
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages: make(map[string]*chatstore.Message),
		clock:    time.Now().UTC(),
	}
}

// nextTime 每次插入遞增 1ms，避免時間戳碰撞
func (r *fakeMessageRepo) nextTime() time.Time {
	r.clock = r.clock.Add(time.Millisecond)
	return r.clock
}

func (r *fakeMessageRepo) Insert(_ context.Context, message *chatstore.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.messages[message.ID]; exists {
		return apperr.Newf(apperr.KindConflict, "message %s already exists", message.ID)
	}
	now := r.nextTime()
	message.CreatedAt = now
	message.UpdatedAt = now
	if message.ReadBy == nil {
		message.ReadBy = []chatstore.Receipt{}
	}
	if message.DeliveredTo == nil {
		message.DeliveredTo = []chatstore.Receipt{}
	}
	copied := *message
	r.messages[message.ID] = &copied
	return nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id string) (*chatstore.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "message %s not found", id)
	}
	copied := *message
	return &copied, nil
}

func (r *fakeMessageRepo) ListByThread(
	_ context.Context, threadID string, limit int, cursor string,
) ([]*chatstore.Message, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*chatstore.Message, 0)
	for _, message := range r.messages {
		if message.ThreadID != threadID {
			continue
		}
		copied := *message
		matched = append(matched, &copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if cursor != "" {
		at, id, err := chatstore.DecodeCursor(cursor)
		if err != nil {
			return nil, "", false, err
		}
		filtered := matched[:0]
		for _, message := range matched {
			if message.CreatedAt.Before(at) ||
				(message.CreatedAt.Equal(at) && message.ID < id) {
				filtered = append(filtered, message)
			}
		}
		matched = filtered
	}

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	nextCursor := ""
	if hasMore && len(matched) > 0 {
		last := matched[len(matched)-1]
		nextCursor = chatstore.EncodeCursor(last.CreatedAt, last.ID)
	}
	return matched, nextCursor, hasMore, nil
}

func (r *fakeMessageRepo) AppendDeliveredTo(_ context.Context, messageID, userID string) (bool, error) {
	return r.appendReceipt(messageID, userID, false)
}

func (r *fakeMessageRepo) AppendReadBy(_ context.Context, messageID, userID string) (bool, error) {
	return r.appendReceipt(messageID, userID, true)
}

func (r *fakeMessageRepo) appendReceipt(messageID, userID string, read bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok {
		return false, nil
	}
	receipts := &message.DeliveredTo
	if read {
		receipts = &message.ReadBy
	}
	for _, receipt := range *receipts {
		if receipt.UserID == userID {
			return false, nil
		}
	}
	*receipts = append(*receipts, chatstore.Receipt{UserID: userID, At: time.Now().UTC()})
	return true, nil
}

func (r *fakeMessageRepo) AdvanceStatus(_ context.Context, messageID, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok || message.Status != from {
		return false, nil
	}
	message.Status = to
	return true, nil
}

func (r *fakeMessageRepo) SoftDelete(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "message %s not found", messageID)
	}
	message.Status = chatstore.MessageStatusDeleted
	message.Content = ""
	return nil
}

func (r *fakeMessageRepo) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message, ok := r.messages[messageID]
	if !ok {
		return false, apperr.Newf(apperr.KindNotFound, "message %s not found", messageID)
	}
	for i, reaction := range message.Reactions {
		if reaction.UserID == userID && reaction.Emoji == emoji {
			message.Reactions = append(message.Reactions[:i], message.Reactions[i+1:]...)
			return false, nil
		}
	}
	message.Reactions = append(message.Reactions, chatstore.Reaction{
		UserID: userID, Emoji: emoji, At: time.Now().UTC(),
	})
	return true, nil
}

func (r *fakeMessageRepo) UnreadCount(_ context.Context, threadID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, message := range r.messages {
		if message.ThreadID != threadID || message.SenderID == userID {
			continue
		}
		if message.Status == chatstore.MessageStatusDeleted {
			continue
		}
		read := false
		for _, receipt := range message.ReadBy {
			if receipt.UserID == userID {
				read = true
				break
			}
		}
		if !read {
			count++
		}
	}
	return count, nil
}
