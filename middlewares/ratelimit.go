package middlewares

import (
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"playmate-chat/apperrors"
	"playmate-chat/config"
	"playmate-chat/utils"
)

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.RateLimit
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimitMiddleware throttles per authenticated user, falling back to the
// client IP. Mount it after TokenAuthMiddleware.
func RateLimitMiddleware(cfg config.RateLimit, log *zap.Logger) gin.HandlerFunc {
	limiters := &limiterPool{cfg: cfg}
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !limiters.Allow(key) {
			log.Debug("rate limited", zap.String("key", key), zap.String("path", c.FullPath()))
			utils.RespondError(c, log, apperrors.RateLimited("too many requests"))
			return
		}
		c.Next()
	}
}
