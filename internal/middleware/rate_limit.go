package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// ProposalRateLimit caps how many negotiations one requester agent may open
// per minute. Requests without an agent id are keyed by IP. Without Redis,
// or when Redis fails, requests pass.
func ProposalRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			RequesterAgentID string `json:"requester_agent_id"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.RequesterAgentID)
		if subject == "" {
			subject = c.IP()
		}

		key := "rl:propose:" + subject + ":" + time.Now().UTC().Format("200601021504")
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, 2*time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many proposals, try again later")
		}
		return c.Next()
	}
}
