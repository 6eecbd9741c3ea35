package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// ErrPasswordMismatch is returned when a password does not match its stored hash.
var ErrPasswordMismatch = errors.New("password mismatch")

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckPassword compares a password with its hash. Besides bcrypt it accepts the
// legacy "sha256$<hex>" and "pbkdf2$<iterations>$<salt hex>$<hash hex>" formats
// so older accounts can still sign in and be re-hashed.
func CheckPassword(password, hash string) error {
	switch {
	case strings.HasPrefix(hash, "sha256$"):
		sum := sha256.Sum256([]byte(password))
		return compareHex(sum[:], strings.TrimPrefix(hash, "sha256$"))
	case strings.HasPrefix(hash, "pbkdf2$"):
		parts := strings.Split(hash, "$")
		if len(parts) != 4 {
			return ErrPasswordMismatch
		}
		iterations, err := strconv.Atoi(parts[1])
		if err != nil || iterations <= 0 {
			return ErrPasswordMismatch
		}
		salt, err := hex.DecodeString(parts[2])
		if err != nil {
			return ErrPasswordMismatch
		}
		expected, err := hex.DecodeString(parts[3])
		if err != nil || len(expected) == 0 {
			return ErrPasswordMismatch
		}
		derived := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
		if subtle.ConstantTimeCompare(derived, expected) != 1 {
			return ErrPasswordMismatch
		}
		return nil
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return ErrPasswordMismatch
		}
		return nil
	}
}

// NeedsRehash reports whether a stored hash uses a legacy scheme.
func NeedsRehash(hash string) bool {
	return strings.HasPrefix(hash, "sha256$") || strings.HasPrefix(hash, "pbkdf2$")
}

func compareHex(sum []byte, encoded string) error {
	expected, err := hex.DecodeString(strings.ToLower(encoded))
	if err != nil {
		return ErrPasswordMismatch
	}
	if subtle.ConstantTimeCompare(sum, expected) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// GenerateRandomString generates a random string of specified length
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsValidRole checks if a role is valid
func IsValidRole(role string) bool {
	return contains([]string{"admin", "teacher", "student"}, role)
}

// IsValidAttendanceStatus checks if an attendance status is valid
func IsValidAttendanceStatus(status string) bool {
	return contains([]string{"present", "late", "sick", "permission", "absent"}, status)
}

// IsValidLeaveType checks if a leave request type is valid
func IsValidLeaveType(t string) bool {
	return contains([]string{"sick", "permission"}, t)
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if v == value {
			return true
		}
	}
	return false
}

// SanitizeString removes dangerous characters from string
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
