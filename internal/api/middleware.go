package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/fibscan/fibscan-backend/internal/audit"
	"github.com/fibscan/fibscan-backend/internal/auth"
	"github.com/fibscan/fibscan-backend/internal/ipallow"
)

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// UserAuth authenticates end users via the session JWT minted by the
// frontend auth layer. On success, userID is set in the context.
func (s *Server) UserAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}
		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.UserJWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		userID, _ := claims["user_id"].(string)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

// ServiceAuth requires a valid service bearer token carrying the given
// scope. Token failures are 401 with the machine-readable reason; a valid
// token without the scope is 403. Both are audited with the caller IP.
func (s *Server) ServiceAuth(required auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ipallow.ClientIP(c.Request)
		res := s.tokens.VerifyBearer(c.GetHeader("Authorization"))
		if !res.Valid {
			audit.Append(c.Request.Context(), audit.Entry{
				EventType: audit.EventTokenRejected, ClientIP: ip, Reason: res.Reason,
			})
			RecordAuthRejection(res.Reason)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": res.Reason})
			return
		}
		if !res.Claims.HasScope(required) {
			audit.Append(c.Request.Context(), audit.Entry{
				EventType: audit.EventScopeRejected,
				Service:   string(res.Claims.Service()),
				ClientIP:  ip,
				Reason:    "missing required scope " + string(required),
			})
			RecordAuthRejection("missing-required-scope")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing required scope"})
			return
		}
		c.Set("serviceID", string(res.Claims.Service()))
		c.Next()
	}
}

// IPAllow rejects callers outside the internal allowlist. Used together with
// ServiceAuth on internal write endpoints: two independent layers, neither
// sufficient alone.
func (s *Server) IPAllow() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ipallow.ClientIP(c.Request)
		if !s.allow.Allowed(ip) {
			audit.Append(c.Request.Context(), audit.Entry{
				EventType: audit.EventIPRejected,
				Service:   c.GetString("serviceID"),
				ClientIP:  ip,
				Reason:    "ip not allowlisted",
			})
			RecordAuthRejection("ip-not-allowed")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// AdminKey authenticates the ops fallback credential for internal read
// endpoints when no service token is at hand. The key is compared against a
// bcrypt hash from configuration.
func (s *Server) AdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminKeyHash == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin key not configured"})
			return
		}
		raw := c.GetHeader("X-Admin-Key")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin key required"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminKeyHash), []byte(raw)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		c.Next()
	}
}

// Simple in-memory IP rate limiter (fixed window)
type clientWindow struct {
	count       int
	windowStart time.Time
}

type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
	}
}

func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cw, ok := l.clients[ip]
	if !ok {
		l.clients[ip] = &clientWindow{count: 1, windowStart: now}
		return true, 0
	}
	if now.Sub(cw.windowStart) >= l.window {
		cw.count = 1
		cw.windowStart = now
		return true, 0
	}
	if cw.count < l.limit {
		cw.count++
		return true, 0
	}
	return false, l.window - now.Sub(cw.windowStart)
}

// RateLimit limits requests per caller IP on the internal endpoints. With a
// Redis address configured it uses shared minute-window keys so the limit
// holds across instances; otherwise it falls back to the in-memory window.
func (s *Server) RateLimit() gin.HandlerFunc {
	rpm := s.cfg.InternalRPM
	if rpm <= 0 {
		rpm = 60
	}
	mem := newIPLimiter(rpm, time.Minute)
	var rc *redis.Client
	if s.cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
	}
	return func(c *gin.Context) {
		ip := ipallow.ClientIP(c.Request)
		if rc != nil {
			now := time.Now().UTC()
			key := fmt.Sprintf("rl:%s:%s", ip, now.Format("200601021504"))
			ctx, cancel := contextWithShortTimeout(c)
			defer cancel()
			if n, err := rc.Incr(ctx, key).Result(); err == nil {
				_ = rc.Expire(ctx, key, 61*time.Second).Err()
				if int(n) > rpm {
					c.Header("Retry-After", "60")
					c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
					return
				}
				c.Next()
				return
			}
			// Redis unreachable: degrade to the local window.
		}
		ok, retryAfter := mem.allow(ip)
		if !ok {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}
