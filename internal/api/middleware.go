package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/observability"
)

// RequestLogger middleware logs HTTP requests.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("Request", map[string]any{
			"client_ip": c.ClientIP(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"method":    c.Request.Method,
			"path":      path,
		})
		if len(c.Errors) > 0 {
			logger.Error("Request errors", map[string]any{
				"path":   path,
				"errors": c.Errors.String(),
			})
		}
	}
}

// CORSMiddleware applies the configured cross-origin headers.
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.Origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", cfg.Methods)
		c.Writer.Header().Set("Access-Control-Allow-Headers", cfg.Headers)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware authenticates requests by API key, accepted either as an
// X-API-Key header or an Authorization bearer token.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if key == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// rateLimiterStorage keeps per-client token buckets with expiry.
type rateLimiterStorage struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	expiry   map[string]time.Time
	cfg      config.RateLimit
}

func (s *rateLimiterStorage) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limiter, ok := s.limiters[key]; ok {
		if time.Now().Before(s.expiry[key]) {
			return limiter
		}
		delete(s.limiters, key)
		delete(s.expiry, key)
	}
	limiter := rate.NewLimiter(rate.Limit(s.cfg.Limit), s.cfg.Burst)
	s.limiters[key] = limiter
	s.expiry[key] = time.Now().Add(s.cfg.Expiration)
	return limiter
}

// RateLimiter middleware implements per-client-IP rate limiting.
func RateLimiter(cfg config.RateLimit) gin.HandlerFunc {
	storage := &rateLimiterStorage{
		limiters: make(map[string]*rate.Limiter),
		expiry:   make(map[string]time.Time),
		cfg:      cfg,
	}
	return func(c *gin.Context) {
		if !storage.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
