// Package membership coordinates the identity provider and the record
// store for operations that must touch both.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
)

// ErrIdentityOrphaned means the loyalty record was deleted but the sign-in
// identity could not be. The user must sign in again to finish.
var ErrIdentityOrphaned = errors.New("account data removed, but the sign-in account remains")

type IdentityProvider interface {
	Register(ctx context.Context, email, password string) (identity.Session, error)
	Provision(ctx context.Context, email, password string) (identity.Identity, error)
	Reload(ctx context.Context) (identity.Identity, error)
	SendVerificationMessage(ctx context.Context) error
	DeleteIdentity(ctx context.Context) error
	RemoveIdentity(ctx context.Context, id string) error
	Current() (identity.Session, bool)
}

type Records interface {
	CreateRecord(ctx context.Context, rec *account.Record) error
	SetVerified(ctx context.Context, id string) error
	DeleteRecord(ctx context.Context, id string) error
}

type Service struct {
	identities IdentityProvider
	records    Records
	logger     *logging.Logger
	now        func() time.Time
}

func NewService(identities IdentityProvider, records Records, logger *logging.Logger) *Service {
	return &Service{
		identities: identities,
		records:    records,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates the identity and its customer record. If the record
// cannot be written the identity is removed again.
func (s *Service) Register(ctx context.Context, email, password string) (identity.Session, error) {
	session, err := s.identities.Register(ctx, email, password)
	if err != nil {
		return identity.Session{}, err
	}

	logger := s.logger.With("identity_id", session.Identity.ID)

	rec := account.NewRecord(session.Identity.ID, session.Identity.Email, s.now())
	if err := s.records.CreateRecord(ctx, rec); err != nil {
		logger.Error("failed to create loyalty record, removing identity", "error", err)
		if delErr := s.identities.DeleteIdentity(ctx); delErr != nil {
			logger.Error("failed to remove identity after record failure", "error", delErr)
		}
		return identity.Session{}, fmt.Errorf("failed to create loyalty record: %w", err)
	}

	logger.Info("member registered")
	return session, nil
}

// DeleteAccount removes the record first, then the identity. A denied
// identity deletion leaves the account orphaned and returns
// ErrIdentityOrphaned.
func (s *Service) DeleteAccount(ctx context.Context) error {
	current, ok := s.identities.Current()
	if !ok {
		return identity.ErrNotSignedIn
	}
	id := current.Identity.ID
	logger := s.logger.With("identity_id", id)

	if err := s.records.DeleteRecord(ctx, id); err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			return fmt.Errorf("failed to delete loyalty record: %w", err)
		}
		logger.Warn("loyalty record already absent")
	}

	if err := s.identities.DeleteIdentity(ctx); err != nil {
		if errors.Is(err, identity.ErrPermissionDenied) {
			logger.Warn("record deleted but identity deletion was denied")
			return fmt.Errorf("%w: %w", ErrIdentityOrphaned, err)
		}
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	logger.Info("account deleted")
	return nil
}

// CheckVerification refreshes the identity from the provider and, once it
// is verified, caches the flag on the record
func (s *Service) CheckVerification(ctx context.Context) (identity.Identity, error) {
	ident, err := s.identities.Reload(ctx)
	if err != nil {
		return identity.Identity{}, err
	}

	if ident.Verified {
		if err := s.records.SetVerified(ctx, ident.ID); err != nil {
			s.logger.Warn("failed to cache verification on record", "identity_id", ident.ID, "error", err)
		}
	}

	return ident, nil
}

func (s *Service) ResendVerification(ctx context.Context) error {
	return s.identities.SendVerificationMessage(ctx)
}

// ProvisionStaff creates a verified identity with an admin record. This is
// the only way an admin record comes into existence. If the record cannot
// be written the identity is removed again.
func (s *Service) ProvisionStaff(ctx context.Context, email, password string) (*account.Record, error) {
	ident, err := s.identities.Provision(ctx, email, password)
	if err != nil {
		return nil, err
	}

	rec := account.NewRecord(ident.ID, ident.Email, s.now())
	rec.Role = account.RoleAdmin
	rec.IsEmailVerified = true

	if err := s.records.CreateRecord(ctx, rec); err != nil {
		logger := s.logger.With("identity_id", ident.ID)
		logger.Error("failed to create staff record, removing identity", "error", err)
		if delErr := s.identities.RemoveIdentity(ctx, ident.ID); delErr != nil {
			logger.Error("failed to remove identity after staff record failure", "error", delErr)
		}
		return nil, fmt.Errorf("failed to create staff record: %w", err)
	}

	s.logger.Info("staff provisioned", "identity_id", ident.ID)
	return rec, nil
}
