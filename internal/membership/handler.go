package membership

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/ratelimit"
)

// Authenticator covers the identity calls that need no record access
type Authenticator interface {
	Login(ctx context.Context, email, password string) (identity.Session, error)
	Logout(ctx context.Context) error
	VerifyEmail(ctx context.Context, token string) error
}

type Handler struct {
	service     *Service
	auth        Authenticator
	rateLimiter *ratelimit.Limiter
}

func NewHandler(service *Service, auth Authenticator, rateLimiter *ratelimit.Limiter) *Handler {
	return &Handler{service: service, auth: auth, rateLimiter: rateLimiter}
}

// CredentialsRequest is used for registration and login
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// SessionResponse carries the device session token
type SessionResponse struct {
	Identity  identity.Identity `json:"identity"`
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	Message   string            `json:"message,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// VerificationStatusResponse reports the refreshed verification flag
type VerificationStatusResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

func sessionResponse(s identity.Session, message string) SessionResponse {
	return SessionResponse{Identity: s.Identity, Token: s.Token, TokenType: "Bearer", Message: message}
}

// Register handles member registration
// @Summary      Register a new member
// @Description  Creates the sign-in identity and an empty loyalty card, signs the device in, and sends a verification email.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Registration credentials"
// @Success      201 {object} SessionResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid request or validation error"
// @Failure      409 {object} httputil.ErrorResponse "Email already exists"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if h.ipLimited(w, r, logger, ip, "register") {
		return
	}

	var req CredentialsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "register"); err != nil {
		logger.Error("failed to record IP request", "error", err)
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrDuplicateEmail):
			logger.Warn("registration failed: email already exists")
			httputil.RespondErrorWithCode(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
		case errors.Is(err, identity.ErrEmailRequired),
			errors.Is(err, identity.ErrInvalidEmailFormat),
			errors.Is(err, identity.ErrPasswordRequired),
			errors.Is(err, identity.ErrPasswordTooShort):
			logger.Warn("registration failed: validation error", "error", err)
			httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeValidationFailed, http.StatusBadRequest)
		case errors.Is(err, account.ErrUnavailable):
			logger.Error("registration failed: store unavailable", "error", err)
			httputil.RespondErrorWithCode(w, "loyalty store unavailable, please try again", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
		default:
			logger.Error("registration failed: internal error", "error", err)
			httputil.RespondErrorWithCode(w, "failed to register", httputil.CodeInternalError, http.StatusInternalServerError)
		}
		return
	}

	logger.Info("member registered via device API", "identity_id", session.Identity.ID)
	httputil.RespondJSON(w, sessionResponse(session, "Registration successful. Please check your email to verify your account."), http.StatusCreated)
}

// Login handles sign-in
// @Summary      Sign in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body CredentialsRequest true "Login credentials"
// @Success      200 {object} SessionResponse
// @Failure      401 {object} httputil.ErrorResponse "Invalid credentials"
// @Failure      429 {object} httputil.ErrorResponse "Too many requests"
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if h.ipLimited(w, r, logger, ip, "login") {
		return
	}

	var req CredentialsRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "login"); err != nil {
		logger.Error("failed to record IP request", "error", err)
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			httputil.RespondErrorWithCode(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		logger.Error("login failed: internal error", "error", err)
		httputil.RespondErrorWithCode(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("signed in")
	httputil.RespondJSON(w, sessionResponse(session, ""), http.StatusOK)
}

// Logout ends the device session
// @Summary      Sign out
// @Tags         auth
// @Produce      json
// @Success      200 {object} MessageResponse
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if err := h.auth.Logout(r.Context()); err != nil {
		logger.Error("logout failed", "error", err)
		httputil.RespondErrorWithCode(w, "failed to logout", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	httputil.RespondJSON(w, MessageResponse{Message: "logged out successfully"}, http.StatusOK)
}

// VerifyEmail confirms an address from the emailed link
// @Summary      Verify email address
// @Tags         auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200 {object} MessageResponse
// @Failure      400 {object} httputil.ErrorResponse "Invalid, expired, or already used token"
// @Router       /auth/verify-email [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httputil.RespondErrorWithCode(w, "verification token is required", httputil.CodeVerificationTokenEmpty, http.StatusBadRequest)
		return
	}

	err := h.auth.VerifyEmail(r.Context(), token)
	switch {
	case err == nil:
		logger.Info("email verified")
		httputil.RespondJSON(w, MessageResponse{Message: "Email verified. You can now collect stamps."}, http.StatusOK)
	case errors.Is(err, identity.ErrEmailAlreadyVerified):
		httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeAlreadyVerified, http.StatusBadRequest)
	case errors.Is(err, identity.ErrInvalidVerificationToken), errors.Is(err, identity.ErrTokenExpired):
		logger.Warn("email verification failed", "error", err)
		httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeVerificationFailed, http.StatusBadRequest)
	default:
		logger.Error("email verification failed: internal error", "error", err)
		httputil.RespondErrorWithCode(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

// ResendVerification sends a new verification email
// @Summary      Resend verification email
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} MessageResponse
// @Failure      429 {object} httputil.ErrorResponse "Sent too recently"
// @Router       /auth/resend-verification [post]
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	if h.ipLimited(w, r, logger, ip, "resend") {
		return
	}
	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "resend"); err != nil {
		logger.Error("failed to record IP request", "error", err)
	}

	err := h.service.ResendVerification(r.Context())
	switch {
	case err == nil:
		httputil.RespondJSON(w, MessageResponse{Message: "Verification email sent."}, http.StatusOK)
	case errors.Is(err, identity.ErrRateLimited):
		logger.Warn("verification resend on cooldown")
		httputil.RespondErrorWithCode(w, "please wait before requesting another email", httputil.CodeCooldownActive, http.StatusTooManyRequests)
	case errors.Is(err, identity.ErrEmailAlreadyVerified):
		httputil.RespondErrorWithCode(w, err.Error(), httputil.CodeAlreadyVerified, http.StatusConflict)
	default:
		logger.Error("verification resend failed", "error", err)
		httputil.RespondErrorWithCode(w, "failed to send verification email", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

// CheckVerification refreshes the verification flag
// @Summary      Refresh verification status
// @Description  Reloads the identity after the user confirmed their address in another app
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} VerificationStatusResponse
// @Router       /auth/check-verification [post]
func (h *Handler) CheckVerification(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ident, err := h.service.CheckVerification(r.Context())
	if err != nil {
		logger.Error("verification check failed", "error", err)
		httputil.RespondErrorWithCode(w, "failed to check verification", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	msg := "Email not verified yet. Check your inbox."
	if ident.Verified {
		msg = "Email verified."
	}
	httputil.RespondJSON(w, VerificationStatusResponse{Verified: ident.Verified, Message: msg}, http.StatusOK)
}

// DeleteAccount removes the card and the sign-in account
// @Summary      Delete account
// @Description  Deletes the loyalty record, then the identity. Requires a recent sign-in for the second step.
// @Tags         account
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} MessageResponse
// @Failure      403 {object} httputil.ErrorResponse "Data removed but sign-in account remains; sign in again"
// @Router       /account [delete]
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	err := h.service.DeleteAccount(r.Context())
	switch {
	case err == nil:
		httputil.RespondJSON(w, MessageResponse{Message: "Account deleted."}, http.StatusOK)
	case errors.Is(err, ErrIdentityOrphaned):
		logger.Warn("account deletion left identity behind", "error", err)
		httputil.RespondErrorWithCode(w, "your data was removed, sign in again to finish deleting the account", httputil.CodeAccountDataRemoved, http.StatusForbidden)
	case errors.Is(err, account.ErrUnavailable):
		logger.Error("account deletion failed: store unavailable", "error", err)
		httputil.RespondErrorWithCode(w, "loyalty store unavailable, please try again", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
	default:
		logger.Error("account deletion failed", "error", err)
		httputil.RespondErrorWithCode(w, "failed to delete account", httputil.CodeInternalError, http.StatusInternalServerError)
	}
}

func (h *Handler) ipLimited(w http.ResponseWriter, r *http.Request, logger *logging.Logger, ip, purpose string) bool {
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err)
		return false
	}
	if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}
	return false
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
