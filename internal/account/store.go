package account

import (
	"context"
	"fmt"
)

// Records is the mutation and lookup side of the store
type Records interface {
	// CreateRecord fails with ErrAlreadyExists when the ID is taken
	CreateRecord(ctx context.Context, rec *Record) error
	// GetRecord fails with ErrNotFound when absent
	GetRecord(ctx context.Context, id string) (*Record, error)
	// IncrementPoints applies delta on the store side; never a read-modify-write
	IncrementPoints(ctx context.Context, id string, delta int) error
	SetVerified(ctx context.Context, id string) error
	DeleteRecord(ctx context.Context, id string) error
}

// VersionedRecords reports the state each mutation wrote, read in the same
// statement as the write. DeleteRecordReturning returns the row as it was
// just before removal.
type VersionedRecords interface {
	Records
	IncrementPointsReturning(ctx context.Context, id string, delta int) (*Record, error)
	SetVerifiedReturning(ctx context.Context, id string) (*Record, error)
	DeleteRecordReturning(ctx context.Context, id string) (*Record, error)
}

// Subscription delivers an initial snapshot followed by every change.
// It must be closed explicitly.
type Subscription interface {
	Updates() <-chan Snapshot
	Close() error
}

// Store is the full document store contract
type Store interface {
	Records
	Subscribe(ctx context.Context, id string) (Subscription, error)
}

// unavailable wraps a transport/driver failure so callers can match ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
}
