package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

const hashStringLen = sha1.Size * 2

// MakeHash returns hash string from plain text
func MakeHash(s string) string {
	hash := sha1.New()
	hash.Write([]byte(s))
	hashBytes := hash.Sum(nil)
	return hex.EncodeToString(hashBytes)
}

// IsHashString returns true if s has the form of a string made by MakeHash
func IsHashString(s string) bool {
	if len(s) != hashStringLen {
		return false
	}

	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		if !isDigit && !isLowerHex {
			return false
		}
	}
	return true
}
