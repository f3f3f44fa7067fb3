package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// AUTH MIDDLEWARE
// =============================================================================

// APIKeyAuthMiddleware returns middleware that checks for a valid API key.
// Health endpoint is exempt. No-op if apiKey is empty.
func APIKeyAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// No-op if no API key configured
		if apiKey == "" {
			c.Next()
			return
		}

		// Health endpoint is always accessible
		if c.Request.URL.Path == "/api/v1/health" {
			c.Next()
			return
		}

		// Check Authorization: Bearer <key>
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] == apiKey {
				c.Next()
				return
			}
		}

		// Check X-API-Key header
		if c.GetHeader("X-API-Key") == apiKey {
			c.Next()
			return
		}

		UnauthorizedError(c, "Invalid or missing API key")
		c.Abort()
	}
}

// =============================================================================
// BODY SIZE MIDDLEWARE
// =============================================================================

// MaxBodySizeMiddleware returns middleware that limits request body size
func MaxBodySizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && c.Request.ContentLength > maxBytes {
			PayloadTooLargeError(c, fmt.Sprintf("Request body too large. Maximum: %d bytes", maxBytes))
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// =============================================================================
// VALIDATION CONSTANTS
// =============================================================================

const (
	MaxQueryTextLength     = 10 * 1024 // 10KB
	MaxTopK                = 1000
	DefaultTopK            = 20
	MaxCanonicalTextLength = 100 * 1024 // 100KB
	MaxEntityFilters       = 100
	DefaultBodyLimit       = 1 * 1024 * 1024  // 1MB
	IngestBodyLimit        = 10 * 1024 * 1024 // 10MB
)

// =============================================================================
// VALIDATION HELPERS
// =============================================================================

// clampTopK ensures top_k is within a valid range for a retrieve request.
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

// validateQueryText checks a retrieve request's query text for length.
func validateQueryText(query string) error {
	if len(query) > MaxQueryTextLength {
		return fmt.Errorf("query_text too long: %d bytes (maximum: %d)", len(query), MaxQueryTextLength)
	}
	return nil
}

// validateCanonicalText checks an ingest request's claim text for length.
func validateCanonicalText(text string) error {
	if len(text) > MaxCanonicalTextLength {
		return fmt.Errorf("canonical_text too long: %d bytes (maximum: %d)", len(text), MaxCanonicalTextLength)
	}
	return nil
}

// validateEntityFilters checks an entity filter list for size.
func validateEntityFilters(entities []string) error {
	if len(entities) > MaxEntityFilters {
		return fmt.Errorf("too many entity filters: %d (maximum: %d)", len(entities), MaxEntityFilters)
	}
	return nil
}
