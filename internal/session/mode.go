// Package session decides which experience the device shows and drives the
// side effects of moving between them.
package session

import (
	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/identity"
)

type Mode string

const (
	ModeLoading         Mode = "loading"
	ModeUnauthenticated Mode = "unauthenticated"
	ModeUnverified      Mode = "unverified"
	ModeStaff           Mode = "staff"
	ModeCustomer        Mode = "customer"
)

// Resolve maps the identity state and the identity's record to exactly one
// mode. It is pure: the same inputs always give the same mode.
//
// Precedence: Loading, Unauthenticated, Unverified, Staff, Customer. An
// absent or not yet loaded record resolves to Customer once verified.
func Resolve(state identity.State, rec *account.Record, policy *Policy) Mode {
	if !state.Ready {
		return ModeLoading
	}

	ident := state.Identity
	if ident == nil {
		return ModeUnauthenticated
	}

	verified := ident.Verified ||
		(rec != nil && rec.IsEmailVerified) ||
		policy.IsExempt(ident)
	if !verified {
		return ModeUnverified
	}

	if rec != nil && rec.IsStaff() {
		return ModeStaff
	}

	return ModeCustomer
}
