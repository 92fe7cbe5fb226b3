// internal/server/router.go
//
// 本檔負責 HTTP 路由註冊與中介層組裝。
//   - handler.go 定義「如何處理請求」
//   - router.go 定義「請求如何被導向」
//   - main.go 組裝整體應用（注入 Ledger、設定、logger）
package server

import "net/http"

// Router 建立並回傳整個 HTTP 處理鏈：
// 觀測（日誌 / 指標 / panic 復原）→ CORS → 限流 → 路由。
func (s *Server) Router() http.Handler {
	v1 := http.NewServeMux()

	// 首頁：只匹配 "/" 本身，其他未知路徑仍為 404
	v1.HandleFunc("/{$}", s.welcome)

	// 健康檢查與指標
	v1.HandleFunc("/health", s.health)
	v1.Handle("/metrics", s.metrics.handler())

	// 帳戶操作：
	//   - GET  /accounts          → 列出帳戶
	//   - POST /accounts          → 建立帳戶
	v1.HandleFunc("/accounts", s.accounts)

	// 帳戶子操作：
	//   - GET    /accounts/{id}
	//   - DELETE /accounts/{id}
	//   - GET    /accounts/{id}/balance
	//   - POST   /accounts/{id}/deposit
	//   - POST   /accounts/{id}/withdraw
	v1.HandleFunc("/accounts/", s.accountSubroutes)

	// 將上述所有端點掛在 /api/v1/ 下，同時保留根路徑。
	root := http.NewServeMux()
	root.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))
	root.Handle("/", v1)

	return s.withObservability(s.withCORS(s.withRateLimit(root)))
}
