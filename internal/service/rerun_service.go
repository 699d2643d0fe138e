package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

type rerunStateReader interface {
	ListUnsucceeded(ctx context.Context) ([]models.CourseRerunState, error)
}

type studioReadChecker interface {
	HasStudioReadAccess(ctx context.Context, user *models.JWTClaims, courseKey models.CourseKey) (bool, error)
}

type pendingCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// RerunService tells studio pages whether reruns they display are still
// pending.
type RerunService struct {
	reruns   rerunStateReader
	access   studioReadChecker
	cache    pendingCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewRerunService constructs the poller. cache may be nil; a non-positive
// cacheTTL disables it.
func NewRerunService(reruns rerunStateReader, access studioReadChecker, cache pendingCache, cacheTTL time.Duration, logger *zap.Logger) *RerunService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RerunService{reruns: reruns, access: access, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Check returns whether the page should reload. It is false only when both
// the pending set and courseIDs are non-empty and every id is still pending.
func (s *RerunService) Check(ctx context.Context, user *models.JWTClaims, courseIDs []string) (*dto.RerunCheckResponse, error) {
	if user == nil {
		return nil, appErrors.ErrUnauthorized
	}
	pending, err := s.pendingKeys(ctx, user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check reruns")
	}
	return &dto.RerunCheckResponse{IsReload: isReload(pending, courseIDs)}, nil
}

func isReload(pending []string, courseIDs []string) bool {
	if len(pending) == 0 || len(courseIDs) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(pending))
	for _, key := range pending {
		set[key] = struct{}{}
	}
	for _, id := range courseIDs {
		if _, ok := set[canonicalCourseID(id)]; !ok {
			return true
		}
	}
	return false
}

func canonicalCourseID(id string) string {
	if key, err := models.ParseCourseKey(id); err == nil {
		return key.String()
	}
	return id
}

// pendingKeys lists unsucceeded rerun course keys the user can read.
func (s *RerunService) pendingKeys(ctx context.Context, user *models.JWTClaims) ([]string, error) {
	cacheKey := fmt.Sprintf("rerun:pending:%d", user.UserID)
	var keys []string
	cached := s.cache != nil && s.cacheTTL > 0
	if cached && s.cache.Get(ctx, cacheKey, &keys) {
		return keys, nil
	}

	states, err := s.reruns.ListUnsucceeded(ctx)
	if err != nil {
		return nil, err
	}
	keys = make([]string, 0, len(states))
	for _, state := range states {
		courseKey, err := models.ParseCourseKey(state.CourseKey)
		if err != nil {
			s.logger.Warn("skipping rerun with invalid course key", zap.String("course_key", state.CourseKey))
			continue
		}
		ok, err := s.access.HasStudioReadAccess(ctx, user, courseKey)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, courseKey.String())
		}
	}

	if cached {
		s.cache.Set(ctx, cacheKey, keys, s.cacheTTL)
	}
	return keys, nil
}
