// Package identity is the authentication provider: credentials, the
// provider-side verification flag, and the device's current session.
package identity

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrEmailRequired            = errors.New("email is required")
	ErrPasswordRequired         = errors.New("password is required")
	ErrPasswordTooShort         = errors.New("password must be at least 8 characters")
	ErrInvalidEmailFormat       = errors.New("invalid email format")
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrTokenExpired             = errors.New("verification token has expired")
	ErrEmailAlreadyVerified     = errors.New("email already verified")
	ErrNotSignedIn              = errors.New("not signed in")

	// ErrPermissionDenied is returned for destructive operations when the
	// session is older than the recent-login window.
	ErrPermissionDenied = errors.New("recent login required")

	// ErrRateLimited is returned while the verification resend cooldown runs
	ErrRateLimited = errors.New("too many requests, please wait")
)

const verificationTokenTTL = 24 * time.Hour

// Identity is what the provider knows about a signed-in user
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// Session is the device's current sign-in
type Session struct {
	Identity        Identity
	Token           string
	AuthenticatedAt time.Time
}

// State is what observers see. Ready stays false until a persisted session
// has been restored or ruled out. Epoch grows every time a session starts
// or ends, so two states with the same identity but different epochs belong
// to different sessions.
type State struct {
	Ready    bool
	Identity *Identity
	Epoch    uint64
}
