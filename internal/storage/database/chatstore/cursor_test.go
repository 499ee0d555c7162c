package chatstore

import (
	"encoding/base64"
	"testing"
	"time"

	"coach-chat/internal/apperr"
)

// TestCursorRoundTrip 測試游標編碼解碼往返一致
func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	id := "msg_01HXYZ"

	cursor := EncodeCursor(at, id)
	gotAt, gotID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("解碼游標失敗: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("時間不一致: %v != %v", gotAt, at)
	}
	if gotID != id {
		t.Fatalf("ID 不一致: %s != %s", gotID, id)
	}
}

// TestCursorPreservesNanoseconds 測試游標保留納秒精度
// 時間戳相撞時分頁靠 id 決勝，精度丟失會造成重複或遺漏
func TestCursorPreservesNanoseconds(t *testing.T) {
	at := time.Now().UTC()

	cursor := EncodeCursor(at, "m1")
	gotAt, _, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("解碼游標失敗: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("精度丟失: %v != %v", gotAt, at)
	}
}

// TestCursorNonUTCNormalized 測試非 UTC 時間編碼後歸一化
func TestCursorNonUTCNormalized(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2026, 3, 14, 17, 0, 0, 0, loc)

	cursor := EncodeCursor(at, "m1")
	gotAt, _, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("解碼游標失敗: %v", err)
	}
	if !gotAt.Equal(at) {
		t.Fatalf("時間點改變: %v != %v", gotAt, at)
	}
}

// TestDecodeCursorMalformed 測試各種壞游標都回傳 validation 錯誤
func TestDecodeCursorMalformed(t *testing.T) {
	cases := []struct {
		name   string
		cursor string
	}{
		{"非 base64", "not-base64!!!"},
		{"缺分隔符", base64.RawURLEncoding.EncodeToString([]byte("2026-03-14T09:00:00Z"))},
		{"缺 ID", base64.RawURLEncoding.EncodeToString([]byte("2026-03-14T09:00:00Z|"))},
		{"壞時間戳", base64.RawURLEncoding.EncodeToString([]byte("昨天|m1"))},
		{"空游標", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeCursor(tc.cursor)
			if !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("期望 validation 錯誤, 實際: %v", err)
			}
		})
	}
}

// TestCursorOpaque 測試游標內容不含明文分隔符
func TestCursorOpaque(t *testing.T) {
	cursor := EncodeCursor(time.Now(), "m1")
	if _, err := base64.RawURLEncoding.DecodeString(cursor); err != nil {
		t.Fatalf("游標應為 URL 安全的 base64: %v", err)
	}
}
