// Package middleware holds the gin middleware chain for the proxy: API-key
// admission, RPC method extraction, request logging, and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/crypto/bcrypt"
)

// QueryAPIKey is the query parameter carrying the caller's API key.
const QueryAPIKey = "api-key"

// validatedKeyTTL is how long a successful bcrypt comparison is remembered,
// so hashed keys don't cost a bcrypt round on every request.
const validatedKeyTTL = 5 * time.Minute

// KeyChecker validates API keys against the configured set. Plaintext
// entries are matched directly; entries starting with "$2" are bcrypt hashes.
type KeyChecker struct {
	plain     map[string]struct{}
	hashed    [][]byte
	validated *ttlcache.Cache[string, struct{}]
}

// NewKeyChecker builds a KeyChecker from the configured key list.
// Call Stop on shutdown to release the cache's eviction goroutine.
func NewKeyChecker(keys []string) *KeyChecker {
	kc := &KeyChecker{
		plain: make(map[string]struct{}, len(keys)),
		validated: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](validatedKeyTTL),
		),
	}
	for _, k := range keys {
		if strings.HasPrefix(k, "$2") {
			kc.hashed = append(kc.hashed, []byte(k))
			continue
		}
		kc.plain[k] = struct{}{}
	}
	go kc.validated.Start()
	return kc
}

// Stop shuts down the validated-key cache.
func (kc *KeyChecker) Stop() {
	kc.validated.Stop()
}

// Allow reports whether key is in the configured set.
func (kc *KeyChecker) Allow(key string) bool {
	if _, ok := kc.plain[key]; ok {
		return true
	}
	if len(kc.hashed) == 0 {
		return false
	}
	if kc.validated.Has(key) {
		return true
	}
	for _, hash := range kc.hashed {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			kc.validated.Set(key, struct{}{}, ttlcache.DefaultTTL)
			return true
		}
	}
	return false
}

// APIKeyAuth admits requests carrying a valid api-key query parameter and
// rejects everything else with a plain 401.
func APIKeyAuth(keys *KeyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query(QueryAPIKey)
		if key == "" {
			slog.Info("no API key provided", "ip", c.ClientIP())
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		if !keys.Allow(key) {
			slog.Info("invalid API key", "key", key, "ip", c.ClientIP())
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
