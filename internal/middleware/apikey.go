package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the caller's API key. "Authorization: Bearer <key>"
// is accepted too.
const APIKeyHeader = "X-API-Key"

// CallerHeader names the agent or operator making the request. It is
// recorded for auditing only.
const CallerHeader = "X-Caller-ID"

const callerLocal = "caller"

// APIKey rejects requests whose key does not match the bcrypt hash. An empty
// hash disables the check. Keys that verified once are remembered by digest
// so bcrypt runs once per key, not once per request.
func APIKey(hash string) fiber.Handler {
	if hash == "" {
		return func(c *fiber.Ctx) error {
			c.Locals(callerLocal, c.Get(CallerHeader))
			return c.Next()
		}
	}
	var verified sync.Map
	return func(c *fiber.Ctx) error {
		key := c.Get(APIKeyHeader)
		if key == "" {
			authz := c.Get(fiber.HeaderAuthorization)
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				key = strings.TrimSpace(authz[len("Bearer "):])
			}
		}
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing api key")
		}

		digest := sha256.Sum256([]byte(key))
		if _, ok := verified.Load(digest); !ok {
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				return fiber.NewError(http.StatusUnauthorized, "invalid api key")
			}
			verified.Store(digest, struct{}{})
		}

		c.Locals(callerLocal, c.Get(CallerHeader))
		return c.Next()
	}
}

// CallerFrom returns the caller recorded by APIKey, or "".
func CallerFrom(c *fiber.Ctx) string {
	caller, _ := c.Locals(callerLocal).(string)
	return caller
}
