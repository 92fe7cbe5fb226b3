// internal/bank/receipt.go

package bank

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind 表示交易種類。
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// Receipt 為一次成功異動的不可變紀錄（值型別，回傳後不再被修改）。
type Receipt struct {
	AccountID  string          `json:"account_number"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Amount     decimal.Decimal `json:"transaction_amount"`
	Kind       Kind            `json:"transaction_type"`
	Timestamp  time.Time       `json:"timestamp"`
}
