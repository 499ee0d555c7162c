package chatstore

import (
	"encoding/base64"
	"strings"
	"time"

	"coach-chat/internal/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// 游標是 (時間, id) 對的不透明編碼
// 以 id 決勝排序保證時間戳相撞時仍是全序，讓分頁在頭部並發插入下保持穩定
const cursorSeparator = "|"

// EncodeCursor 將 (時間, id) 編碼為不透明游標
func EncodeCursor(at time.Time, id string) string {
	raw := at.UTC().Format(time.RFC3339Nano) + cursorSeparator + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor 解析游標，格式錯誤回傳 ValidationError
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindValidation, "malformed cursor", err)
	}

	parts := strings.SplitN(string(raw), cursorSeparator, 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", apperr.New(apperr.KindValidation, "malformed cursor")
	}

	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", apperr.Wrap(apperr.KindValidation, "malformed cursor timestamp", err)
	}

	return at, parts[1], nil
}

// olderThan 生成「嚴格早於游標位置」的查詢條件
// 同一時間戳時以 id 比較，與排序鍵 (時間 desc, id desc) 一致
func olderThan(timeField string, at time.Time, id string) []bson.M {
	return []bson.M{
		{timeField: bson.M{"$lt": at}},
		{timeField: at, "id": bson.M{"$lt": id}},
	}
}
