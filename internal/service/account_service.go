package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-studio-api/internal/dto"
	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/database"
	appErrors "github.com/noah-isme/lms-studio-api/pkg/errors"
)

const (
	msgUserExists   = "User already exists"
	msgUIDNotUnique = "Parameter 'uid' isn't unique."
	msgUserMissing  = "User is missing with given the 'uid'"
)

type accountRepository interface {
	FindByUID(ctx context.Context, uid string) (*models.User, error)
	ConflictingFields(ctx context.Context, email, username string, excludeID int64) ([]string, error)
	UIDExists(ctx context.Context, uid string) (bool, error)
	CreateWithSocialAuth(ctx context.Context, user *models.User, link *models.SocialAuth) error
	Update(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AccountConfig configures account provisioning.
type AccountConfig struct {
	// IdPBackendName is recorded as the provider of new external-auth links.
	IdPBackendName string
}

// AccountService provisions accounts for passwordless external-auth login.
type AccountService struct {
	repo   accountRepository
	params *ParamValidator
	logger *zap.Logger
	config AccountConfig
}

// NewAccountService constructs the account provisioner.
func NewAccountService(repo accountRepository, params *ParamValidator, logger *zap.Logger, config AccountConfig) *AccountService {
	if params == nil {
		params = NewParamValidator(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, params: params, logger: logger, config: config}
}

// Create provisions a new active account linked to the external uid.
func (s *AccountService) Create(ctx context.Context, req dto.CreateAccountRequest) (*dto.AccountResponse, error) {
	email, err := s.params.Require(strings.TrimSpace(req.Email), ParamEmail)
	if err != nil {
		return nil, err
	}
	username, err := s.params.Require(strings.TrimSpace(req.Username), ParamUsername)
	if err != nil {
		return nil, err
	}
	uid, err := s.params.Require(strings.TrimSpace(req.UID), ParamUID)
	if err != nil {
		return nil, err
	}
	gender, err := s.params.Gender(req.Gender)
	if err != nil {
		return nil, err
	}
	if err := s.params.Email(email); err != nil {
		return nil, err
	}
	if err := s.params.Username(username); err != nil {
		return nil, err
	}

	conflicts, err := s.repo.ConflictingFields(ctx, email, username, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check account")
	}
	if len(conflicts) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, msgUserExists)
	}
	taken, err := s.repo.UIDExists(ctx, uid)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check uid")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, msgUIDNotUnique)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(randomPassword()), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Name:         displayName(req.FirstName, req.LastName, username),
		Gender:       gender,
		IsActive:     true,
	}
	link := &models.SocialAuth{Provider: s.config.IdPBackendName, UID: uid}
	if err := s.repo.CreateWithSocialAuth(ctx, user, link); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, msgUserExists)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.audit(ctx, models.AuditActionAccountCreate, user, nil, req.IP, req.UserAgent)
	s.logger.Info("account provisioned", zap.Int64("user_id", user.ID), zap.String("provider", link.Provider))
	return &dto.AccountResponse{UserID: user.ID, Username: user.Username}, nil
}

// Update applies a partial update to the account linked to uid.
func (s *AccountService) Update(ctx context.Context, req dto.UpdateAccountRequest) (*dto.AccountResponse, error) {
	uid, err := s.params.Require(strings.TrimSpace(req.UID), ParamUID)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgUserMissing)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	patch := models.AccountPatch{
		Email:     nonEmpty(req.Email),
		Username:  nonEmpty(req.Username),
		FirstName: nonEmpty(req.FirstName),
		LastName:  nonEmpty(req.LastName),
		Gender:    nonEmpty(req.Gender),
	}
	if patch.Empty() {
		return &dto.AccountResponse{UserID: user.ID, Username: user.Username}, nil
	}

	if patch.Email != nil {
		if err := s.params.Email(*patch.Email); err != nil {
			return nil, err
		}
	}
	if patch.Username != nil {
		if err := s.params.Username(*patch.Username); err != nil {
			return nil, err
		}
	}
	if patch.Gender != nil {
		if _, err := s.params.Require(*patch.Gender, ParamGender, models.Genders...); err != nil {
			return nil, err
		}
	}

	if patch.Email != nil || patch.Username != nil {
		conflicts, err := s.repo.ConflictingFields(ctx, deref(patch.Email), deref(patch.Username), user.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check account")
		}
		if len(conflicts) > 0 {
			return nil, appErrors.Clone(appErrors.ErrConflict, "User already exists with given the "+strings.Join(conflicts, " and the "))
		}
	}

	before := *user
	applyPatch(user, patch)
	if err := s.repo.Update(ctx, user); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, msgUserExists)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, msgUserMissing)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
	}

	s.audit(ctx, models.AuditActionAccountUpdate, user, &before, req.IP, req.UserAgent)
	return &dto.AccountResponse{UserID: user.ID, Username: user.Username}, nil
}

func applyPatch(user *models.User, patch models.AccountPatch) {
	if patch.Username != nil {
		user.Username = *patch.Username
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.FirstName != nil {
		user.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		user.LastName = *patch.LastName
	}
	if patch.FirstName != nil || patch.LastName != nil {
		user.Name = strings.TrimSpace(user.FirstName + " " + user.LastName)
	}
	if patch.Gender != nil {
		user.Gender = *patch.Gender
	}
}

func (s *AccountService) audit(ctx context.Context, action string, user, before *models.User, ip, userAgent string) {
	resourceID := strconv.FormatInt(user.ID, 10)
	entry := &models.AuditLog{
		UserID:     &user.ID,
		Action:     action,
		Resource:   "account",
		ResourceID: &resourceID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	entry.NewValues, _ = json.Marshal(user)
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

// displayName joins first and last name, falling back to the username.
func displayName(first, last, username string) string {
	if first == "" && last == "" {
		return username
	}
	return strings.TrimSpace(first + " " + last)
}

// randomPassword returns 32 hex characters; provisioned accounts never log in
// with it.
func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	return &trimmed
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
