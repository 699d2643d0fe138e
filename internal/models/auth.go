package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload issued by the platform's
// auth service.
type JWTClaims struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	jwt.RegisteredClaims
}

// GlobalStaff reports whether the caller bypasses per-course role checks.
func (c *JWTClaims) GlobalStaff() bool {
	return c != nil && (c.IsStaff || c.IsSuperuser)
}
