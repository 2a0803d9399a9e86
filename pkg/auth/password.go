package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost matches the work factor the recipe site has always used.
const DefaultCost = 10

// dummyHash is compared against when a username does not exist so that
// unknown users cost the same as wrong passwords.
var dummyHash = mustHash("recipeshare-dummy-password")

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// BurnCompare performs a throwaway comparison. Always returns false.
func BurnCompare(password string) bool {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	return false
}

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}
