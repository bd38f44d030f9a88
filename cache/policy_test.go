package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvictionPolicy(t *testing.T) {
	t.Run("test InvalidationDate", testPolicyInvalidationDate)
	t.Run("test ConflictBasis", testPolicyConflictBasis)
	t.Run("test Limits", testPolicyLimits)
	t.Run("test Validate", testPolicyValidate)
}

func testPolicyInvalidationDate(t *testing.T) {
	now := time.Unix(100, 0)

	_, ok := NewEvictionPolicy(Forever(), 0, 0).InvalidationDate(now)
	assert.False(t, ok)

	date, ok := NewEvictionPolicy(AfterStorage(time.Minute), 0, 0).InvalidationDate(now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Minute), date)

	date, ok = NewEvictionPolicy(AfterAccess(time.Second), 0, 0).InvalidationDate(now)
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Second), date)

	// a date on the zero time would read as undated
	date, ok = NewEvictionPolicy(AfterStorage(0), 0, 0).InvalidationDate(time.Time{})
	assert.True(t, ok)
	assert.False(t, date.IsZero())
}

func testPolicyConflictBasis(t *testing.T) {
	assert.Equal(t, ConflictBasisNone, NewEvictionPolicy(Forever(), 0, 0).ConflictBasis())
	assert.Equal(t, ConflictBasisStorageDate, NewEvictionPolicy(AfterStorage(time.Second), 0, 0).ConflictBasis())
	assert.Equal(t, ConflictBasisAccessDate, NewEvictionPolicy(AfterAccess(time.Second), 0, 0).ConflictBasis())

	assert.False(t, NewEvictionPolicy(AfterStorage(time.Second), 0, 0).RefreshesOnAccess())
	assert.True(t, NewEvictionPolicy(AfterAccess(time.Second), 0, 0).RefreshesOnAccess())
}

func testPolicyLimits(t *testing.T) {
	policy := NewDefaultEvictionPolicy()
	assert.False(t, policy.HasEntryCountLimit())
	assert.False(t, policy.HasTotalSizeLimit())
	assert.Equal(t, ValidityForever, policy.Validity.Kind())

	policy = NewEvictionPolicy(Forever(), 2, 1024)
	assert.True(t, policy.HasEntryCountLimit())
	assert.True(t, policy.HasTotalSizeLimit())
}

func testPolicyValidate(t *testing.T) {
	assert.NoError(t, NewDefaultEvictionPolicy().Validate())
	assert.NoError(t, NewEvictionPolicy(AfterAccess(0), 0, 0).Validate())

	err := NewEvictionPolicy(AfterStorage(-time.Second), 0, 0).Validate()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPolicy))

	assert.Equal(t, "after_access(1s)", AfterAccess(time.Second).String())
	assert.Equal(t, "forever", Forever().String())
}
