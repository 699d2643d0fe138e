package dto

// CreateAccountRequest is the body of an account provisioning call. Form and
// JSON bodies are both accepted.
type CreateAccountRequest struct {
	Email     string  `form:"email" json:"email"`
	Username  string  `form:"username" json:"username"`
	UID       string  `form:"uid" json:"uid"`
	FirstName string  `form:"first_name" json:"first_name"`
	LastName  string  `form:"last_name" json:"last_name"`
	Gender    *string `form:"gender" json:"gender"`
	IP        string  `form:"-" json:"-"`
	UserAgent string  `form:"-" json:"-"`
}

// UpdateAccountRequest carries a partial account update keyed by uid. Nil or
// empty fields are left unchanged.
type UpdateAccountRequest struct {
	UID       string  `form:"uid" json:"uid"`
	Email     *string `form:"email" json:"email"`
	Username  *string `form:"username" json:"username"`
	FirstName *string `form:"first_name" json:"first_name"`
	LastName  *string `form:"last_name" json:"last_name"`
	Gender    *string `form:"gender" json:"gender"`
	IP        string  `form:"-" json:"-"`
	UserAgent string  `form:"-" json:"-"`
}

// AccountResponse identifies the provisioned or updated account.
type AccountResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
