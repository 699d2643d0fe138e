package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/database"
)

const userColumns = `u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name, u.name, u.gender, u.is_active, u.created_at, u.updated_at`

// UserRepository provides database access for platform accounts and their
// external-auth linkages.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUID returns the user linked to the external-auth uid.
func (r *UserRepository) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u
	JOIN social_auth_usersocialauth s ON s.user_id = u.id
	WHERE s.uid = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, uid); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by uid: %w", err)
	}
	return &user, nil
}

// ConflictingFields lists which of email and username already belong to an
// account other than excludeID. Empty values are not checked; excludeID 0
// matches every account.
func (r *UserRepository) ConflictingFields(ctx context.Context, email, username string, excludeID int64) ([]string, error) {
	const query = `SELECT
	COALESCE(BOOL_OR($1 <> '' AND LOWER(email) = LOWER($1)), FALSE) AS email_taken,
	COALESCE(BOOL_OR($2 <> '' AND username = $2), FALSE) AS username_taken
	FROM users WHERE id <> $3 AND (LOWER(email) = LOWER($1) OR username = $2)`
	var row struct {
		EmailTaken    bool `db:"email_taken"`
		UsernameTaken bool `db:"username_taken"`
	}
	if err := r.db.GetContext(ctx, &row, query, email, username, excludeID); err != nil {
		return nil, fmt.Errorf("check account conflicts: %w", err)
	}
	fields := make([]string, 0, 2)
	if row.EmailTaken {
		fields = append(fields, "email")
	}
	if row.UsernameTaken {
		fields = append(fields, "username")
	}
	return fields, nil
}

// UIDExists reports whether an external-auth uid is already linked.
func (r *UserRepository) UIDExists(ctx context.Context, uid string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM social_auth_usersocialauth WHERE uid = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, uid); err != nil {
		return false, fmt.Errorf("check uid: %w", err)
	}
	return exists, nil
}

// CreateWithSocialAuth inserts the user and its linkage in one transaction,
// filling the generated identifiers.
func (r *UserRepository) CreateWithSocialAuth(ctx context.Context, user *models.User, link *models.SocialAuth) error {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const insertUser = `INSERT INTO users (username, email, password_hash, first_name, last_name, name, gender, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
		if err := tx.QueryRowxContext(ctx, insertUser,
			user.Username, user.Email, user.PasswordHash, user.FirstName, user.LastName,
			user.Name, user.Gender, user.IsActive, user.CreatedAt, user.UpdatedAt,
		).Scan(&user.ID); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		link.UserID = user.ID
		const insertLink = `INSERT INTO social_auth_usersocialauth (user_id, provider, uid) VALUES ($1, $2, $3) RETURNING id`
		if err := tx.QueryRowxContext(ctx, insertLink, link.UserID, link.Provider, link.UID).Scan(&link.ID); err != nil {
			return fmt.Errorf("insert social auth: %w", err)
		}
		return nil
	})
}

// Update persists the mutable account fields.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET username = :username, email = :email, first_name = :first_name, last_name = :last_name,
	name = :name, gender = :gender, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateAuditLog stores an audit trail entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	log.Action = strings.ToUpper(log.Action)
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at)
	VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
