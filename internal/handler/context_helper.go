package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-studio-api/internal/middleware"
	"github.com/noah-isme/lms-studio-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// preferredLanguage returns the first language tag of Accept-Language, or ""
// when the header is absent.
func preferredLanguage(c *gin.Context) string {
	header := c.GetHeader("Accept-Language")
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}
