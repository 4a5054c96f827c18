package users

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-auth-session/internal/errors"
)

// HashPassword hashes at bcrypt.MinCost; hashes only live in the in-memory backend.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("[HashPassword] %w", err)
	}
	return string(hash), nil
}

// VerifyPassword returns ErrInvalidCredentials when password does not match hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return fmt.Errorf("[VerifyPassword] %w: %w", errors.ErrInvalidCredentials, err)
	}
	return nil
}
