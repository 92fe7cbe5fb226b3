// internal/bank/errors.go
//
// 本檔集中定義「領域錯誤（domain errors）」。
// 這些錯誤屬於商業邏輯層級（非系統錯誤），由上層 HTTP handler 轉換成適當的 HTTP 狀態碼。
// 所有錯誤皆不改變任何帳戶狀態；呼叫端以 errors.Is 比對。

package bank

import "errors"

var (
	// ErrNotFound 代表帳戶不存在（或已被刪除）。
	// 對應 HTTP 狀態碼 404 Not Found。
	ErrNotFound = errors.New("account not found")

	// ErrBadAmount 代表金額非法：存提款 <= 0、初始餘額為負，或超過單筆上限。
	// 對應 HTTP 狀態碼 400 Bad Request。
	ErrBadAmount = errors.New("invalid amount")

	// ErrInsufficient 代表餘額不足，提款失敗且餘額不變。
	// 對應 HTTP 狀態碼 409 Conflict。
	ErrInsufficient = errors.New("insufficient funds")

	// ErrCapacity 代表帳戶數已達上限，無法再建立。
	// 對應 HTTP 狀態碼 507 Insufficient Storage。
	ErrCapacity = errors.New("maximum number of accounts reached")
)
