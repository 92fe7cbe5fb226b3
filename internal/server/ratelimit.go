// internal/server/ratelimit.go

package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter 對每個來源位址套用一個 token bucket，並定期清除閒置項目。
// 為 nil 時代表不限流。
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter 參數不合法（rps <= 0 或 burst <= 0）時回傳 nil。
func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*limiterEntry),
	}
}

// allow 回報 key 在 now 是否還有可用 token。
func (l *clientLimiter) allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
