package models

import "time"

// Gender codes accepted on accounts.
const (
	GenderMale   = "m"
	GenderFemale = "f"
	GenderOther  = "o"
)

// Genders lists the allowed gender codes.
var Genders = []string{GenderMale, GenderFemale, GenderOther}

// User represents a platform account stored in the users table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Name         string    `db:"name" json:"name"`
	Gender       string    `db:"gender" json:"gender"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SocialAuth links a user to an identity at an external auth provider.
type SocialAuth struct {
	ID       int64  `db:"id" json:"id"`
	UserID   int64  `db:"user_id" json:"user_id"`
	Provider string `db:"provider" json:"provider"`
	UID      string `db:"uid" json:"uid"`
}

// AccountPatch carries the optional fields of an account update. Nil means
// "leave unchanged".
type AccountPatch struct {
	Email     *string
	Username  *string
	FirstName *string
	LastName  *string
	Gender    *string
}

// Empty reports whether no field is set.
func (p AccountPatch) Empty() bool {
	return p.Email == nil && p.Username == nil && p.FirstName == nil && p.LastName == nil && p.Gender == nil
}
