// Package bank 定義核心領域模型與業務規則。
// 本檔定義 Account：每個帳戶自帶一把互斥鎖，於建立時一併配置。
// 不含任何 HTTP 或設定細節。

package bank

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Account 為單一帳戶。
// - mu：僅保護本帳戶的 balance / updatedAt / closed，與其他帳戶互不阻塞。
// - seq：建立順序，用於 List 的穩定排序。
// - closed：帳戶自 Store 移除後設為 true，之後任何操作皆回傳 ErrNotFound。
type Account struct {
	id        string
	seq       uint64
	createdAt time.Time

	mu        sync.Mutex
	balance   decimal.Decimal
	updatedAt time.Time
	closed    bool
}

// AccountInfo 為帳戶在某一時間點的值拷貝，可安全交給呼叫端。
type AccountInfo struct {
	ID        string          `json:"account_number"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"last_updated"`
}

func newAccount(id string, seq uint64, balance decimal.Decimal, now time.Time) *Account {
	return &Account{
		id:        id,
		seq:       seq,
		createdAt: now,
		balance:   balance,
		updatedAt: now,
	}
}

// ID 回傳帳戶 ID（建立後不可變，無需加鎖）。
func (a *Account) ID() string { return a.id }

// Balance 於帳戶鎖內讀取目前餘額。
func (a *Account) Balance() (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return decimal.Decimal{}, ErrNotFound
	}
	return a.balance, nil
}

// Info 於帳戶鎖內取得值拷貝。
func (a *Account) Info() (AccountInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return AccountInfo{}, ErrNotFound
	}
	return a.infoLocked(), nil
}

func (a *Account) infoLocked() AccountInfo {
	return AccountInfo{ID: a.id, Balance: a.balance, CreatedAt: a.createdAt, UpdatedAt: a.updatedAt}
}

// Change 描述一次已提交的餘額調整：調整前、後餘額與提交時間。
type Change struct {
	Before decimal.Decimal
	After  decimal.Decimal
	At     time.Time
}

// ApplyDelta 以帶號金額原子地調整餘額；now 於鎖內呼叫，作為提交時間。
// 若 balance+delta < 0 則回傳 ErrInsufficient，餘額保持不變（無部分變更）。
// 同一帳戶同時最多只有一個 ApplyDelta 在執行。
func (a *Account) ApplyDelta(delta decimal.Decimal, now func() time.Time) (Change, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Change{}, ErrNotFound
	}
	next := a.balance.Add(delta)
	if next.IsNegative() {
		return Change{}, ErrInsufficient
	}
	c := Change{Before: a.balance, After: next, At: now()}
	a.balance = next
	a.updatedAt = c.At
	return c, nil
}

// close 標記帳戶已刪除。必須在 Store 移除 map 項目之後呼叫；
// 取得帳戶鎖代表等待正在進行中的 ApplyDelta 完成。
func (a *Account) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
