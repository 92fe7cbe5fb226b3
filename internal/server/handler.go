// internal/server/handler.go
//
// Package server
// ─────────────────────────────────────────────
// 提供 HTTP RESTful 介面，作為 bank 模組的外部轉接層。
// 每個 handler 僅負責：
//  1. 解析請求（JSON body 與路徑參數）
//  2. 呼叫 Ledger 執行操作
//  3. 將結果或領域錯誤轉成標準化 JSON 回應
//
// 所有鎖與餘額規則都在 bank 內，本層不持有任何帳戶狀態。
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"atm/internal/bank"
)

// Ledger 為 server 所需的核心操作；*bank.Ledger 即滿足此介面。
type Ledger interface {
	Balance(id string) (decimal.Decimal, error)
	Account(id string) (bank.AccountInfo, error)
	Deposit(id string, amount decimal.Decimal) (bank.Receipt, error)
	Withdraw(id string, amount decimal.Decimal) (bank.Receipt, error)
	CreateAccount(initial decimal.Decimal) (bank.AccountInfo, error)
	DeleteAccount(id string) error
	ListAccounts() []bank.AccountInfo
	Stats() bank.Stats
}

// Options 為 Server 的可選設定。
type Options struct {
	Version   string
	Logger    *slog.Logger
	RateRPS   float64 // <= 0 代表不限流
	RateBurst int
	Registry  *prometheus.Registry // nil 時自行建立

	// AllowedOrigins 為 CORS 允許的來源；"*" 代表全部，空代表不送出 CORS 標頭。
	AllowedOrigins []string
}

// Server 為 HTTP 層核心結構。
type Server struct {
	ledger  Ledger
	version string
	log     *slog.Logger
	limiter *clientLimiter
	metrics *metrics
	origins []string
}

// NewServer 建立新的 HTTP 伺服器。
func NewServer(l Ledger, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	return &Server{
		ledger:  l,
		version: opts.Version,
		log:     opts.Logger,
		limiter: newClientLimiter(opts.RateRPS, opts.RateBurst),
		metrics: newMetrics(opts.Registry, l.Stats),
		origins: opts.AllowedOrigins,
	}
}

// decodeBody 解析 JSON body；空 body 視為全部使用預設值。
// body 必須恰好是一個 JSON 值，之後的任何內容都視為錯誤。
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid request body: unexpected data after JSON value")
	}
	return nil
}

type createRequest struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type createResponse struct {
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Message       string          `json:"message"`
}

type listResponse struct {
	TotalAccounts int                `json:"total_accounts"`
	MaxAccounts   int                `json:"max_accounts"`
	Accounts      []bank.AccountInfo `json:"accounts"`
}

type balanceResponse struct {
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// accounts 處理：
//   - POST /accounts  → 建立帳戶 {initial_balance}
//   - GET  /accounts  → 列出所有帳戶
func (s *Server) accounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, err, http.StatusBadRequest)
			return
		}
		a, err := s.ledger.CreateAccount(req.InitialBalance)
		s.metrics.observe("create", err)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, createResponse{
			AccountNumber: a.ID,
			Balance:       a.Balance,
			Message:       "Account created successfully",
		})

	case http.MethodGet:
		all := s.ledger.ListAccounts()
		s.metrics.observe("list", nil)
		st := s.ledger.Stats()
		writeJSON(w, http.StatusOK, listResponse{
			TotalAccounts: len(all),
			MaxAccounts:   st.MaxAccounts,
			Accounts:      all,
		})
	default:
		methodNotAllowed(w)
	}
}

// accountSubroutes 處理子路徑：
//
//	GET    /accounts/{id}           → 查詢帳戶
//	DELETE /accounts/{id}           → 刪除帳戶
//	GET    /accounts/{id}/balance   → 查詢餘額
//	POST   /accounts/{id}/deposit   → 存款
//	POST   /accounts/{id}/withdraw  → 提款
func (s *Server) accountSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/accounts/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a, err := s.ledger.Account(id)
			s.metrics.observe("get", err)
			if err != nil {
				writeDomainErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, a)
		case http.MethodDelete:
			err := s.ledger.DeleteAccount(id)
			s.metrics.observe("delete", err)
			if err != nil {
				writeDomainErr(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "balance": // GET /accounts/{id}/balance
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		bal, err := s.ledger.Balance(id)
		s.metrics.observe("balance", err)
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{AccountNumber: id, Balance: bal})

	case "deposit": // POST /accounts/{id}/deposit
		s.transaction(w, r, id, bank.KindDeposit, s.ledger.Deposit)

	case "withdraw": // POST /accounts/{id}/withdraw
		s.transaction(w, r, id, bank.KindWithdraw, s.ledger.Withdraw)

	default:
		http.NotFound(w, r)
	}
}

// transaction 為存提款共用流程：解析 {amount} → 呼叫 op → 回傳收據。
func (s *Server) transaction(w http.ResponseWriter, r *http.Request, id string, kind bank.Kind,
	op func(string, decimal.Decimal) (bank.Receipt, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err, http.StatusBadRequest)
		return
	}
	rc, err := op(id, req.Amount)
	s.metrics.observe(string(kind), err)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// health 提供健康檢查端點：GET /health。
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st := s.ledger.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"accounts_count": st.Accounts,
		"max_accounts":   st.MaxAccounts,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        s.version,
	})
}

const welcomePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>ATM System</title></head>
<body>
<h1>Welcome to the ATM System</h1>
<p>Version %s. The JSON API is served under <code>/api/v1</code>; see <a href="/health">/health</a>.</p>
</body>
</html>
`

// welcome 處理 GET / ，回傳簡單的 HTML 首頁。
func (s *Server) welcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, welcomePage, html.EscapeString(s.version))
}
