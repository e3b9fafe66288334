package auth

import "time"

// User is the domain representation of a registered account. It mirrors the
// users table and the local user-set blob and should not include JSON
// annotations so it can be reused by different presentation layers.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
	AvatarURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is an authenticated identity active for the duration of a login.
// The zero value means logged out.
type Session struct {
	UserID    string
	Username  string
	Email     string
	AvatarURL *string
	Token     string
}

// Active reports whether the session belongs to a logged-in user.
func (s Session) Active() bool {
	return s.UserID != ""
}

// RegisterRequest contains registration data supplied by callers.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
