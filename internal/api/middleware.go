package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pos-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const operatorKey = "operator_id"

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// corsMiddleware allows the back-office console to call the API
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "Origin", "Idempotency-Key", "X-Operator-ID"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	return cors.New(cfg)
}

var errMissingOperator = errors.New("operator identity required")

// operatorMiddleware resolves who is acting. With a secret configured the
// operator is the sub claim of an HS256 bearer token; without one it is
// the X-Operator-ID header. Browsers opening the feed socket may pass the
// same values as access_token or operator_id query parameters.
func operatorMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		var (
			operator string
			err      error
		)
		if secret != "" {
			operator, err = operatorFromToken(c, key)
		} else {
			operator = strings.TrimSpace(c.GetHeader("X-Operator-ID"))
			if operator == "" {
				operator = c.Query("operator_id")
			}
			if operator == "" {
				err = errMissingOperator
			}
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"details": err.Error(),
			})
			return
		}
		c.Set(operatorKey, operator)
		c.Next()
	}
}

func operatorFromToken(c *gin.Context, key []byte) (string, error) {
	raw := c.GetHeader("Authorization")
	tokenString := strings.TrimPrefix(raw, "Bearer ")
	if raw == "" || tokenString == raw {
		tokenString = c.Query("access_token")
	}
	if tokenString == "" {
		return "", errMissingOperator
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func operatorID(c *gin.Context) string {
	return c.GetString(operatorKey)
}

// operatorRateLimiter limits mutating requests per operator
type operatorRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	entryTTL time.Duration
	lastGC   time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newOperatorRateLimiter(rps float64, burst int) *operatorRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &operatorRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		entryTTL: 10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (rl *operatorRateLimiter) limiter(operator string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastGC) > rl.entryTTL {
		for id, entry := range rl.limiters {
			if now.Sub(entry.lastSeen) > rl.entryTTL {
				delete(rl.limiters, id)
			}
		}
		rl.lastGC = now
	}

	entry, ok := rl.limiters[operator]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[operator] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Middleware rejects an operator's writes beyond the configured rate.
// Reads are not limited.
func (rl *operatorRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if !rl.limiter(operatorID(c)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too_many_requests",
			})
			return
		}
		c.Next()
	}
}
