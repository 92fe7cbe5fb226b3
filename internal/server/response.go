// internal/server/response.go
//
// 本檔負責統一 HTTP 回應格式與錯誤碼映射。
//   - 成功回應使用標準 JSON 編碼（Content-Type: application/json）。
//   - 錯誤回應統一為 {"error": "..."}，狀態碼由 statusFor 依領域錯誤決定。
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"atm/internal/bank"
)

// writeJSON 統一輸出成功回應。
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr 統一輸出錯誤回應。
func writeErr(w http.ResponseWriter, err error, code int) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeDomainErr 依領域錯誤映射狀態碼後輸出。
func writeDomainErr(w http.ResponseWriter, err error) {
	writeErr(w, err, statusFor(err))
}

// statusFor 將 bank 的領域錯誤對應到 HTTP 狀態碼。
func statusFor(err error) int {
	switch {
	case errors.Is(err, bank.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bank.ErrBadAmount):
		return http.StatusBadRequest
	case errors.Is(err, bank.ErrInsufficient):
		return http.StatusConflict
	case errors.Is(err, bank.ErrCapacity):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeErr(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
}
