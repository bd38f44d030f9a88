package cache

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

// ErrInvalidPolicy is returned when an eviction policy can't be used
var ErrInvalidPolicy = errors.New("invalid eviction policy")

// ValidityKind defines how entry validity is measured
type ValidityKind int

const (
	// ValidityForever entries never expire
	ValidityForever ValidityKind = iota
	// ValidityAfterStorage entries expire a fixed time after they are stored
	ValidityAfterStorage
	// ValidityAfterAccess entries expire a fixed time after they are stored or last read
	ValidityAfterAccess
)

// String returns text representation of the kind
func (kind ValidityKind) String() string {
	switch kind {
	case ValidityForever:
		return "forever"
	case ValidityAfterStorage:
		return "after_storage"
	case ValidityAfterAccess:
		return "after_access"
	default:
		return fmt.Sprintf("unknown(%d)", int(kind))
	}
}

// ConflictBasis tells which date decides validity
type ConflictBasis int

const (
	// ConflictBasisNone is for entries that never expire
	ConflictBasisNone ConflictBasis = iota
	// ConflictBasisStorageDate dates entries from when they were stored
	ConflictBasisStorageDate
	// ConflictBasisAccessDate dates entries from when they were last stored or read
	ConflictBasisAccessDate
)

// Validity describes how long entries stay valid
type Validity struct {
	kind ValidityKind
	ttl  time.Duration
}

// Forever returns a Validity whose entries never expire
func Forever() Validity {
	return Validity{kind: ValidityForever}
}

// AfterStorage returns a Validity whose entries expire ttl after being stored
func AfterStorage(ttl time.Duration) Validity {
	return Validity{kind: ValidityAfterStorage, ttl: ttl}
}

// AfterAccess returns a Validity whose entries expire ttl after being stored or read
func AfterAccess(ttl time.Duration) Validity {
	return Validity{kind: ValidityAfterAccess, ttl: ttl}
}

// Kind returns the kind of the validity
func (validity Validity) Kind() ValidityKind {
	return validity.kind
}

// TTL returns time-to-live, zero for forever
func (validity Validity) TTL() time.Duration {
	return validity.ttl
}

func (validity Validity) String() string {
	if validity.kind == ValidityForever {
		return validity.kind.String()
	}
	return fmt.Sprintf("%s(%s)", validity.kind, validity.ttl)
}

// EvictionPolicy describes validity and limits of a cache store.
// A limit <= 0 means no limit.
type EvictionPolicy struct {
	Validity        Validity
	EntryCountLimit int
	TotalSizeLimit  int64
}

// NewEvictionPolicy creates a new EvictionPolicy
func NewEvictionPolicy(validity Validity, entryCountLimit int, totalSizeLimit int64) EvictionPolicy {
	return EvictionPolicy{
		Validity:        validity,
		EntryCountLimit: entryCountLimit,
		TotalSizeLimit:  totalSizeLimit,
	}
}

// NewDefaultEvictionPolicy returns a policy that keeps everything forever
func NewDefaultEvictionPolicy() EvictionPolicy {
	return NewEvictionPolicy(Forever(), 0, 0)
}

// Validate checks the policy
func (policy EvictionPolicy) Validate() error {
	switch policy.Validity.kind {
	case ValidityForever:
		return nil
	case ValidityAfterStorage, ValidityAfterAccess:
		if policy.Validity.ttl < 0 {
			return xerrors.Errorf("negative ttl %s: %w", policy.Validity.ttl, ErrInvalidPolicy)
		}
		return nil
	default:
		return xerrors.Errorf("unknown validity %s: %w", policy.Validity.kind, ErrInvalidPolicy)
	}
}

// HasEntryCountLimit returns true if the number of entries is bounded
func (policy EvictionPolicy) HasEntryCountLimit() bool {
	return policy.EntryCountLimit > 0
}

// HasTotalSizeLimit returns true if the total size of entries is bounded
func (policy EvictionPolicy) HasTotalSizeLimit() bool {
	return policy.TotalSizeLimit > 0
}

// InvalidationDate returns the date an entry stored or read at now becomes invalid.
// Returns false if entries never become invalid.
// The zero time marks undated entries, so a date falling on it is moved one nanosecond later.
func (policy EvictionPolicy) InvalidationDate(now time.Time) (time.Time, bool) {
	if policy.Validity.kind == ValidityForever {
		return time.Time{}, false
	}

	date := now.Add(policy.Validity.ttl)
	if date.IsZero() {
		date = date.Add(time.Nanosecond)
	}
	return date, true
}

// RefreshesOnAccess returns true if reads push the invalidation date forward
func (policy EvictionPolicy) RefreshesOnAccess() bool {
	return policy.Validity.kind == ValidityAfterAccess
}

// ConflictBasis returns which date decides validity
func (policy EvictionPolicy) ConflictBasis() ConflictBasis {
	switch policy.Validity.kind {
	case ValidityAfterStorage:
		return ConflictBasisStorageDate
	case ValidityAfterAccess:
		return ConflictBasisAccessDate
	default:
		return ConflictBasisNone
	}
}
