// internal/bank/ledger.go

// Package bank 定義核心商業邏輯：帳戶建立、刪除、列出、查詢餘額、存款與提款。
// 鎖的取得順序固定為：結構鎖（短暫，用於 ID → Account 解析或 map 變更）釋放後，
// 才取得目標帳戶鎖。任何操作都不會同時持有兩個帳戶鎖，也沒有跨帳戶轉帳，
// 因此帳戶之間不可能發生鎖順序死結。
// 金額使用 decimal.Decimal，避免浮點誤差。
package bank

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger 為對外的服務層。每次呼叫都重新經由 Store 解析帳戶，
// 不跨呼叫快取 *Account，避免刪除後仍持有過期參照。
type Ledger struct {
	store  *Store
	maxTx  decimal.Decimal
	hasMax bool
	log    *slog.Logger
	now    func() time.Time
}

// Option 設定 Ledger。
type Option func(*ledgerOptions)

type ledgerOptions struct {
	maxAccounts int
	maxTx       *decimal.Decimal
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// WithMaxAccounts 設定帳戶數上限（預設 DefaultCapacity）。
func WithMaxAccounts(n int) Option {
	return func(o *ledgerOptions) { o.maxAccounts = n }
}

// WithMaxTransactionAmount 設定單筆金額上限；未設定則不限制。
// 上限同時套用於存款、提款與開戶初始餘額。
func WithMaxTransactionAmount(limit decimal.Decimal) Option {
	return func(o *ledgerOptions) { o.maxTx = &limit }
}

// WithLogger 設定記錄已提交異動的 logger；預設丟棄。
func WithLogger(l *slog.Logger) Option {
	return func(o *ledgerOptions) { o.logger = l }
}

// WithClock 替換時間來源（測試用）。
func WithClock(now func() time.Time) Option {
	return func(o *ledgerOptions) { o.now = now }
}

// WithIDGenerator 替換帳戶 ID 產生器；預設為 UUIDv4。
func WithIDGenerator(gen func() string) Option {
	return func(o *ledgerOptions) { o.newID = gen }
}

// New 建立 Ledger 與其專屬的 Store。
func New(opts ...Option) *Ledger {
	o := ledgerOptions{maxAccounts: DefaultCapacity, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	st := NewStore(o.maxAccounts)
	st.now = o.now
	if o.newID != nil {
		st.newID = o.newID
	}
	l := &Ledger{store: st, log: o.logger, now: o.now}
	if o.maxTx != nil {
		l.maxTx, l.hasMax = *o.maxTx, true
	}
	return l
}

// Stats 為帳戶數統計，供健康檢查與監控使用。
type Stats struct {
	Accounts    int `json:"accounts_count"`
	MaxAccounts int `json:"max_accounts"`
}

// Stats 回傳目前帳戶數與上限。
func (l *Ledger) Stats() Stats {
	return Stats{Accounts: l.store.Len(), MaxAccounts: l.store.Capacity()}
}

// Balance 回傳帳戶目前餘額；帳戶不存在回傳 ErrNotFound。
func (l *Ledger) Balance(id string) (decimal.Decimal, error) {
	a, err := l.store.Get(id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return a.Balance()
}

// Account 回傳帳戶的值拷貝。
func (l *Ledger) Account(id string) (AccountInfo, error) {
	a, err := l.store.Get(id)
	if err != nil {
		return AccountInfo{}, err
	}
	return a.Info()
}

// Deposit 存款：金額需 > 0 且不超過單筆上限。
func (l *Ledger) Deposit(id string, amount decimal.Decimal) (Receipt, error) {
	return l.apply(id, amount, KindDeposit)
}

// Withdraw 提款：金額需 > 0、不超過單筆上限且不得使餘額為負。
func (l *Ledger) Withdraw(id string, amount decimal.Decimal) (Receipt, error) {
	return l.apply(id, amount, KindWithdraw)
}

// apply 為存提款共用流程：驗證金額 → 解析帳戶（結構讀鎖）→ 帳戶鎖內異動 → 產生收據。
func (l *Ledger) apply(id string, amount decimal.Decimal, kind Kind) (Receipt, error) {
	if !amount.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: %s amount must be > 0", ErrBadAmount, kind)
	}
	if err := l.checkMax(amount); err != nil {
		return Receipt{}, err
	}
	a, err := l.store.Get(id)
	if err != nil {
		return Receipt{}, err
	}
	delta := amount
	if kind == KindWithdraw {
		delta = amount.Neg()
	}
	c, err := a.ApplyDelta(delta, l.now)
	if err != nil {
		return Receipt{}, err
	}
	l.log.Info("transaction committed",
		"account", id,
		"kind", string(kind),
		"amount", amount.String(),
		"old_balance", c.Before.String(),
		"new_balance", c.After.String(),
	)
	return Receipt{
		AccountID:  id,
		NewBalance: c.After,
		Amount:     amount,
		Kind:       kind,
		Timestamp:  c.At,
	}, nil
}

// CreateAccount 以初始餘額開戶；初始餘額不得為負或超過單筆上限，滿額時回傳 ErrCapacity。
func (l *Ledger) CreateAccount(initial decimal.Decimal) (AccountInfo, error) {
	if initial.IsNegative() {
		return AccountInfo{}, fmt.Errorf("%w: initial balance must be >= 0", ErrBadAmount)
	}
	if err := l.checkMax(initial); err != nil {
		return AccountInfo{}, err
	}
	info, err := l.store.Create(initial)
	if err != nil {
		return AccountInfo{}, err
	}
	l.log.Info("account created", "account", info.ID, "balance", initial.String())
	return info, nil
}

// DeleteAccount 刪除帳戶；進行中的同帳戶異動會先完成。
func (l *Ledger) DeleteAccount(id string) error {
	if err := l.store.Delete(id); err != nil {
		return err
	}
	l.log.Info("account deleted", "account", id)
	return nil
}

// ListAccounts 回傳所有帳戶的快照，依建立順序排列。
func (l *Ledger) ListAccounts() []AccountInfo {
	return l.store.List()
}

func (l *Ledger) checkMax(amount decimal.Decimal) error {
	if l.hasMax && amount.GreaterThan(l.maxTx) {
		return fmt.Errorf("%w: %s exceeds max transaction amount %s", ErrBadAmount, amount, l.maxTx)
	}
	return nil
}
