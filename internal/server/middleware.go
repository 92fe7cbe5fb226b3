// internal/server/middleware.go
//
// HTTP 中介層：限流、CORS、請求日誌與指標、panic 復原。
// 由 router.go 依序包裝，handler 本身不需關心這些橫切關注點。
package server

import (
	"errors"
	"net"
	"net/http"
	"slices"
	"time"
)

// statusRecorder 記錄 handler 寫出的狀態碼，以及回應標頭是否已送出。
type statusRecorder struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.code = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// withObservability 記錄每個請求的 method / path / status / 耗時，並更新指標。
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("panic in handler", "method", r.Method, "path", r.URL.Path, "panic", p)
				if rec.wroteHeader {
					// 回應已部分送出，無法再改寫；只修正記錄用的狀態碼
					rec.code = http.StatusInternalServerError
				} else {
					writeErr(rec, errors.New("internal server error"), http.StatusInternalServerError)
				}
			}
			elapsed := time.Since(start)
			s.metrics.observeRequest(routeLabel(r.URL.Path), rec.code, elapsed)
			s.log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.code,
				"duration", elapsed,
			)
		}()
		next.ServeHTTP(rec, r)
	})
}

// corsMethods 為跨來源請求允許的方法。
const corsMethods = "GET, POST, DELETE, OPTIONS"

// withCORS 依 AllowedOrigins 加上 CORS 標頭；預檢請求（OPTIONS + Access-Control-Request-Method）
// 直接回 204，不進入限流與路由。未設定來源時原樣轉交。
func (s *Server) withCORS(next http.Handler) http.Handler {
	if len(s.origins) == 0 {
		return next
	}
	anyOrigin := slices.Contains(s.origins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")
		if !anyOrigin && !slices.Contains(s.origins, origin) {
			next.ServeHTTP(w, r)
			return
		}
		// 允許攜帶憑證時不可回傳 "*"，改為回傳請求的來源
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", corsMethods)
			if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
				h.Set("Access-Control-Allow-Headers", req)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit 以來源主機為 key 限流，超過時回傳 429。
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeErr(w, errors.New("rate limit exceeded"), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
