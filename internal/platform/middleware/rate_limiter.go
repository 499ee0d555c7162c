package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter 以 token bucket 為基礎的速率限制器，每個 IP 一個 limiter
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	perMin   int           // 每分鐘允許的請求數
	burst    int           // 突發容量
	maxIdle  time.Duration // limiter 無活動多久後回收
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 創建新的速率限制器
// perMin: 每分鐘允許的請求數
func NewRateLimiter(perMin int) *RateLimiter {
	if perMin <= 0 {
		perMin = 60
	}

	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		perMin:   perMin,
		burst:    perMin,
		maxIdle:  10 * time.Minute,
	}

	// 啟動清理 goroutine，定期回收閒置的 limiter
	go rl.cleanupLoop()

	return rl
}

// Middleware 返回 Gin 中間件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 獲取客戶端 IP
		ip := c.ClientIP()

		// 檢查是否超過速率限制
		if !rl.Allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "請求過於頻繁，請稍後再試",
				"success": false,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Allow 檢查指定 key 是否允許請求
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

// get 取得該 key 的 limiter，首次使用時建立
func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	l := rate.NewLimiter(rate.Limit(float64(rl.perMin)/60.0), rl.burst)
	rl.limiters[key] = &limiterEntry{limiter: l, lastSeen: time.Now()}
	return l
}

// cleanupLoop 定期回收閒置的 limiter
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, entry := range rl.limiters {
			if now.Sub(entry.lastSeen) > rl.maxIdle {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}

// PerEndpointRateLimiter 為不同端點設置不同的速率限制
type PerEndpointRateLimiter struct {
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewPerEndpointRateLimiter 創建端點級速率限制器
func NewPerEndpointRateLimiter(defaultPerMin int) *PerEndpointRateLimiter {
	return &PerEndpointRateLimiter{
		limiters: make(map[string]*RateLimiter),
		fallback: NewRateLimiter(defaultPerMin),
	}
}

// SetLimit 為特定端點設置限制，path 使用路由模板（含 :param）
func (p *PerEndpointRateLimiter) SetLimit(path string, perMin int) {
	p.limiters[path] = NewRateLimiter(perMin)
}

// Middleware 返回 Gin 中間件
func (p *PerEndpointRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// FullPath 回傳已匹配的路由模板，未匹配的請求退回原始路徑
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		limiter := p.fallback
		if l, exists := p.limiters[path]; exists {
			limiter = l
		}

		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "請求過於頻繁，請稍後再試",
				"success": false,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
