package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUtils(t *testing.T) {
	t.Run("test MakeHash", testMakeHash)
	t.Run("test IsHashString", testIsHashString)
	t.Run("test TimeString", testTimeString)
}

func testMakeHash(t *testing.T) {
	hash1 := MakeHash("key-0")
	hash2 := MakeHash("key-0")
	hash3 := MakeHash("key-1")

	assert.Equal(t, hash1, hash2)
	assert.NotEqual(t, hash1, hash3)
	assert.Len(t, hash1, 40)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", MakeHash(""))
}

func testIsHashString(t *testing.T) {
	assert.True(t, IsHashString(MakeHash("abc")))
	assert.False(t, IsHashString("metadata.json"))
	assert.False(t, IsHashString(""))
	assert.False(t, IsHashString("DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"))
}

func testTimeString(t *testing.T) {
	t1 := time.Date(2024, 3, 1, 10, 20, 30, 40000000, time.UTC)

	text := MakeTimeToString(t1)
	assert.Equal(t, "2024-03-01T10:20:30.04Z", text)

	t2, err := ParseTime(text)
	assert.NoError(t, err)
	assert.True(t, t1.Equal(t2))

	_, err = ParseTime("not a time")
	assert.Error(t, err)
}
