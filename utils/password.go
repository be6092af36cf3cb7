package utils

import (
	"errors"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordMismatch = errors.New("password does not match")

// passwordCost honours BCRYPT_COST so local seeds and tests can hash quickly.
func passwordCost() int {
	if n, err := strconv.Atoi(os.Getenv("BCRYPT_COST")); err == nil && n >= bcrypt.MinCost && n <= bcrypt.MaxCost {
		return n
	}
	return bcrypt.DefaultCost
}

func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), passwordCost())
}

// ComparePassword returns ErrPasswordMismatch for a wrong password and the
// bcrypt error for a malformed hash.
func ComparePassword(hashed string, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
