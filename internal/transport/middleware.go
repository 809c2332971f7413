// Package transport generalizes the teacher's internal/api +
// internal/middleware into gin routers covering every RPC family of
// spec.md §5: auth, chat, profile, emote, federation sync, and the
// batch endpoints that fan a request out into several of the others.
package transport

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/session"
)

// Context keys for values AuthMiddleware stores per request, mirroring
// the teacher's typo-proof string-constant approach (middleware/auth.go).
const contextKeyUserID = "user_id"

// AuthMiddleware validates the Authorization: Bearer <token> header
// against the live session map and, on success, stores the resolved
// user id for handlers to read via UserID(c).
func AuthMiddleware(sessions *session.Map) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondError(c, herror.ErrBadSession)
			c.Abort()
			return
		}

		userID, err := sessions.Lookup(c.Request.Context(), parts[1])
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

// UserID reads the authenticated user id AuthMiddleware stored. Returns
// 0 if called outside an authenticated route — callers that need a
// guaranteed identity should only do so behind AuthMiddleware.
func UserID(c *gin.Context) uint64 {
	val, exists := c.Get(contextKeyUserID)
	if !exists {
		return 0
	}
	id, ok := val.(uint64)
	if !ok {
		return 0
	}
	return id
}

// respondError maps an internal error to the wire status/body spec.md
// §7 defines, falling back to a generic 500 for anything that isn't a
// *herror.Error.
func respondError(c *gin.Context, err error) {
	status, id, message := herror.StatusAndID(err)
	c.JSON(status, gin.H{"error": id, "message": message})
}

// pathUint64 parses a gin path parameter as a uint64 id, responding with
// 400 and returning ok=false on failure so callers can just `return`.
func pathUint64(c *gin.Context, name string) (uint64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(c, herror.ErrWrongFieldType)
		return 0, false
	}
	return id, true
}

// perClientLimiter tracks one rate.Limiter per client key for one
// RateLimit middleware instance, so every route that shares that instance
// shares the client's budget. Limits are (count, window) pairs; the limiter
// itself is shared across requests for the same key rather than
// recreated, so the token bucket actually accumulates state over time
// (the same golang.org/x/time/rate idiom the pack's Discord bots use for
// per-channel/per-user send limits).
type perClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

// RateLimit returns middleware enforcing count requests per window per
// client, where the client key is the trusted-proxy header if present
// (X-Forwarded-For, first hop) and otherwise the direct remote address.
// allowlist endpoints (batch sub-dispatch, health checks) should simply
// not wrap this middleware rather than special-case it here.
func RateLimit(count int, window time.Duration) gin.HandlerFunc {
	pcl := &perClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(count)),
		burst:    count,
	}
	return func(c *gin.Context) {
		key := clientKey(c)
		limiter := pcl.get(key)
		if !limiter.Allow() {
			retryAfter := int(window.Seconds())
			respondError(c, herror.RateLimited(retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (p *perClientLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.every, p.burst)
		p.limiters[key] = l
	}
	return l
}

// parseQueryUint64 parses a query parameter as a uint64, returning
// ok=false (with no error response — an absent query param is not a
// client error) when it's missing or malformed.
func parseQueryUint64(c *gin.Context, name string) (uint64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func clientKey(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	return c.ClientIP()
}
