package service

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

// AuthConfig defines how access tokens issued by the platform are verified.
type AuthConfig struct {
	AccessTokenSecret string
	Issuer            string
}

// AuthService validates access tokens. Tokens are issued elsewhere.
type AuthService struct {
	logger *zap.Logger
	config AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{logger: logger, config: config}
}

// ValidateToken parses and verifies an HS256 access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

type accessRepository interface {
	HasAnyRole(ctx context.Context, userID int64, courseKey models.CourseKey, roles []string) (bool, error)
}

var (
	authorRoles     = []string{models.CourseRoleInstructor, models.CourseRoleStaff}
	studioReadRoles = []string{models.CourseRoleInstructor, models.CourseRoleStaff, models.CourseRoleLibraryUser}
)

// AccessService answers course permission questions from stored access roles.
// Global staff and superusers pass every check.
type AccessService struct {
	repo   accessRepository
	logger *zap.Logger
}

// NewAccessService constructs the access checker.
func NewAccessService(repo accessRepository, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{repo: repo, logger: logger}
}

// HasCourseAuthorAccess reports whether the caller may edit the course.
func (s *AccessService) HasCourseAuthorAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error) {
	return s.hasRole(ctx, user, courseKey, authorRoles)
}

// HasStudioReadAccess reports whether the caller may view the course in studio.
func (s *AccessService) HasStudioReadAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error) {
	return s.hasRole(ctx, user, courseKey, studioReadRoles)
}

func (s *AccessService) hasRole(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey, roles []string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.GlobalStaff() {
		return true, nil
	}
	ok, err := s.repo.HasAnyRole(ctx, user.UserID, courseKey, roles)
	if err != nil {
		return false, fmt.Errorf("check access for user %d on %s: %w", user.UserID, courseKey, err)
	}
	return ok, nil
}
