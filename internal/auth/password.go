package auth

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

const specialChars = `!@#$%^&*(),.?":{}|<>`

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordProblems returns every policy violation of password, in a stable
// order. An empty result means the password is acceptable.
func PasswordProblems(password string) []string {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	var out []string
	if len([]rune(password)) < MinPasswordLength {
		out = append(out, "Password must be at least 8 characters long.")
	}
	if !lower {
		out = append(out, "Password must contain at least one lowercase letter.")
	}
	if !upper {
		out = append(out, "Password must contain at least one uppercase letter.")
	}
	if !digit {
		out = append(out, "Password must contain at least one number.")
	}
	if !special {
		out = append(out, "Password must contain at least one special character.")
	}
	return out
}
