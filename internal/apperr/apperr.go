package apperr

import (
	"errors"
	"fmt"
)

// Kind 錯誤分類
// 每個對外操作只回傳一個分類後的錯誤（見 httputil 的狀態碼對應）
type Kind int

const (
	// KindInternal 未預期的內部錯誤
	KindInternal Kind = iota
	// KindValidation 輸入格式錯誤，客戶端不應自動重試
	KindValidation
	// KindForbidden 呼叫者不是參與者或權限不足
	KindForbidden
	// KindNotFound 對話串或訊息不存在
	KindNotFound
	// KindConflict 重複的參與者等衝突狀態
	KindConflict
	// KindTransient 網路或儲存暫時性錯誤，客戶端可帶退避重試
	KindTransient
)

// String 回傳分類名稱
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error 帶分類的錯誤
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error 實作 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支援 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// New 建立指定分類的錯誤
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf 建立指定分類的格式化錯誤
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包裝底層錯誤並附上分類
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 取得錯誤的分類；非 *Error 一律視為內部錯誤
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 檢查錯誤是否屬於指定分類
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient 判斷錯誤是否可重試
// 離線佇列依此決定退避重試或直接標記失敗
func IsTransient(err error) bool {
	return Is(err, KindTransient)
}
