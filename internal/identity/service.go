package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// Mailer delivers verification messages
type Mailer interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
}

// Cooldown throttles verification resends per address
type Cooldown interface {
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldownFor(ctx context.Context, email string, d time.Duration) error
}

type noCooldown struct{}

func (noCooldown) CheckEmailCooldown(context.Context, string) (bool, error) { return false, nil }

func (noCooldown) SetEmailCooldownFor(context.Context, string, time.Duration) error { return nil }

type Options struct {
	TokenDuration    time.Duration
	RecentAuthWindow time.Duration
	ResendCooldown   time.Duration
}

// Service is the device-local view of the identity provider. It owns the
// current session and broadcasts every change to watchers.
type Service struct {
	store    Store
	tokens   TokenService
	sessions SessionStore
	mailer   Mailer
	cooldown Cooldown
	logger   *logging.Logger
	opts     Options
	now      func() time.Time

	mu          sync.Mutex
	ready       bool
	session     *Session
	epoch       uint64
	watchers    map[uint64]chan State
	nextWatcher uint64
}

func NewService(
	store Store,
	tokens TokenService,
	sessions SessionStore,
	mailer Mailer,
	cooldown Cooldown,
	logger *logging.Logger,
	opts Options,
) *Service {
	if cooldown == nil {
		cooldown = noCooldown{}
	}
	return &Service{
		store:    store,
		tokens:   tokens,
		sessions: sessions,
		mailer:   mailer,
		cooldown: cooldown,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		watchers: make(map[uint64]chan State),
	}
}

// Start restores a persisted session, if any, and then reports readiness.
// Until Start returns, watchers see State{Ready: false}.
func (s *Service) Start(ctx context.Context) {
	persisted, err := s.sessions.Load()
	if err != nil {
		s.logger.Warn("failed to load persisted session", "error", err)
	}

	var restored *Session
	if persisted != nil {
		restored = s.restore(ctx, persisted)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
	if restored != nil {
		s.session = restored
		s.epoch++
	}
	s.notifyLocked()
}

func (s *Service) restore(ctx context.Context, p *PersistedSession) *Session {
	logger := s.logger.With("identity_id", p.IdentityID)

	claims, err := s.tokens.VerifyToken(p.Token)
	if err != nil || claims.IdentityID != p.IdentityID {
		logger.Info("discarding persisted session", "reason", "token rejected")
		s.clearPersisted()
		return nil
	}

	ident := Identity{ID: p.IdentityID, Email: p.Email, Verified: p.Verified}

	cred, err := s.store.GetByID(ctx, p.IdentityID)
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("discarding persisted session", "reason", "identity deleted")
		s.clearPersisted()
		return nil
	case err != nil:
		logger.Warn("failed to refresh restored identity, using cached flags", "error", err)
	default:
		ident = cred.identity()
	}

	logger.Info("session restored")
	return &Session{Identity: ident, Token: p.Token, AuthenticatedAt: p.AuthenticatedAt}
}

// Register creates an identity, signs it in and sends the first
// verification message in the background
func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return Session{}, err
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	verificationToken, err := generateRandomToken()
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate verification token: %w", err)
	}

	sentAt := s.now()
	cred := &Credential{
		ID:                      uuid.NewString(),
		Email:                   email,
		PasswordHash:            passwordHash,
		EmailVerificationToken:  &verificationToken,
		EmailVerificationSentAt: &sentAt,
	}
	if err := s.store.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Session{}, ErrDuplicateEmail
		}
		return Session{}, fmt.Errorf("failed to create identity: %w", err)
	}

	session, err := s.signIn(cred)
	if err != nil {
		return Session{}, err
	}

	if err := s.cooldown.SetEmailCooldownFor(ctx, email, s.opts.ResendCooldown); err != nil {
		s.logger.Warn("failed to set email cooldown", "error", err)
	}

	go func() {
		if err := s.mailer.SendVerificationEmail(context.Background(), email, verificationToken); err != nil {
			// the user can resend from the verification screen
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()

	return session, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	cred, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("failed to get identity: %w", err)
	}

	if !verifyPassword(cred.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}

	return s.signIn(cred)
}

func (s *Service) signIn(cred *Credential) (Session, error) {
	token, err := s.tokens.CreateToken(cred.ID, cred.Email, s.opts.TokenDuration)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session token: %w", err)
	}

	session := Session{
		Identity:        cred.identity(),
		Token:           token,
		AuthenticatedAt: s.now(),
	}

	s.mu.Lock()
	s.session = &session
	s.epoch++
	s.persistLocked()
	s.notifyLocked()
	s.mu.Unlock()

	return session, nil
}

// Logout ends the session. Signing out twice is not an error.
func (s *Service) Logout(_ context.Context) error {
	s.mu.Lock()
	if s.session != nil {
		s.session = nil
		s.epoch++
	}
	s.notifyLocked()
	s.mu.Unlock()

	if err := s.sessions.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// VerifyEmail confirms the address behind a verification token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidVerificationToken
	}

	cred, err := s.store.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			used, checkErr := s.store.CheckIfTokenAlreadyUsed(ctx, token)
			if checkErr == nil && used {
				return ErrEmailAlreadyVerified
			}
			return ErrInvalidVerificationToken
		}
		return fmt.Errorf("failed to find identity by token: %w", err)
	}

	if cred.EmailVerificationSentAt == nil || s.now().After(cred.EmailVerificationSentAt.Add(verificationTokenTTL)) {
		return ErrTokenExpired
	}

	if err := s.store.MarkEmailAsVerified(ctx, cred.ID); err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}

	s.mu.Lock()
	if s.session != nil && s.session.Identity.ID == cred.ID && !s.session.Identity.Verified {
		s.session.Identity.Verified = true
		s.persistLocked()
		s.notifyLocked()
	}
	s.mu.Unlock()

	return nil
}

// SendVerificationMessage issues a fresh verification token to the signed-in
// identity. It fails with ErrRateLimited during the resend cooldown.
func (s *Service) SendVerificationMessage(ctx context.Context) error {
	current, ok := s.Current()
	if !ok {
		return ErrNotSignedIn
	}
	logger := s.logger.With("identity_id", current.Identity.ID)

	cred, err := s.store.GetByID(ctx, current.Identity.ID)
	if err != nil {
		return fmt.Errorf("failed to get identity: %w", err)
	}
	if cred.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	onCooldown, err := s.cooldown.CheckEmailCooldown(ctx, cred.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err)
	} else if onCooldown {
		return ErrRateLimited
	}

	token, err := generateRandomToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}

	if err := s.store.UpdateVerificationToken(ctx, cred.ID, token, s.now()); err != nil {
		return fmt.Errorf("failed to update verification token: %w", err)
	}

	if err := s.mailer.SendVerificationEmail(ctx, cred.Email, token); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	if err := s.cooldown.SetEmailCooldownFor(ctx, cred.Email, s.opts.ResendCooldown); err != nil {
		logger.Error("failed to set email cooldown", "error", err)
	}

	logger.Info("verification email sent")
	return nil
}

// Reload refreshes the signed-in identity from the provider. If the
// identity no longer exists the session ends.
func (s *Service) Reload(ctx context.Context) (Identity, error) {
	current, ok := s.Current()
	if !ok {
		return Identity{}, ErrNotSignedIn
	}

	cred, err := s.store.GetByID(ctx, current.Identity.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.endSession(current.Identity.ID)
		}
		return Identity{}, fmt.Errorf("failed to reload identity: %w", err)
	}

	fresh := cred.identity()

	s.mu.Lock()
	if s.session != nil && s.session.Identity.ID == fresh.ID && s.session.Identity != fresh {
		s.session.Identity = fresh
		s.persistLocked()
		s.notifyLocked()
	}
	s.mu.Unlock()

	return fresh, nil
}

// DeleteIdentity removes the signed-in identity and ends the session.
// It requires a sign-in within the recent-auth window.
func (s *Service) DeleteIdentity(ctx context.Context) error {
	current, ok := s.Current()
	if !ok {
		return ErrNotSignedIn
	}

	if s.now().Sub(current.AuthenticatedAt) > s.opts.RecentAuthWindow {
		return ErrPermissionDenied
	}

	if err := s.store.Delete(ctx, current.Identity.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	s.endSession(current.Identity.ID)
	return nil
}

// Provision creates a pre-verified identity without signing in
// RemoveIdentity deletes an identity by ID without the recent sign-in check.
// It exists to undo a Provision whose follow-up work failed. A session
// belonging to that identity is ended.
func (s *Service) RemoveIdentity(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove identity: %w", err)
	}

	s.endSession(id)
	s.logger.Info("identity removed", "identity_id", id)
	return nil
}

func (s *Service) Provision(ctx context.Context, email, password string) (Identity, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		return Identity{}, err
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &Credential{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  passwordHash,
		EmailVerified: true,
	}
	if err := s.store.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return Identity{}, ErrDuplicateEmail
		}
		return Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}

	return cred.identity(), nil
}

// Current returns the active session
func (s *Service) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Watch delivers the current state immediately and then every change.
// Slow readers only see the latest state. Call cancel to stop watching.
func (s *Service) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatcher
	s.nextWatcher++

	ch := make(chan State, 1)
	ch <- s.stateLocked()
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (s *Service) endSession(identityID string) {
	s.mu.Lock()
	if s.session == nil || s.session.Identity.ID != identityID {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.epoch++
	s.notifyLocked()
	s.mu.Unlock()

	s.clearPersisted()
}

func (s *Service) stateLocked() State {
	state := State{Ready: s.ready, Epoch: s.epoch}
	if s.session != nil {
		ident := s.session.Identity
		state.Identity = &ident
	}
	return state
}

func (s *Service) notifyLocked() {
	state := s.stateLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
}

func (s *Service) persistLocked() {
	if s.session == nil {
		return
	}
	err := s.sessions.Save(&PersistedSession{
		Token:           s.session.Token,
		IdentityID:      s.session.Identity.ID,
		Email:           s.session.Identity.Email,
		Verified:        s.session.Identity.Verified,
		AuthenticatedAt: s.session.AuthenticatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
}

func (s *Service) clearPersisted() {
	if err := s.sessions.Clear(); err != nil {
		s.logger.Warn("failed to clear persisted session", "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	if len(email) > 254 {
		return "", ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmailFormat
	}
	if password == "" {
		return "", ErrPasswordRequired
	}
	if len(password) < 8 {
		return "", ErrPasswordTooShort
	}
	return email, nil
}
