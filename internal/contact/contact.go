// Package contact validates and normalizes guest contact details.
package contact

import (
	"regexp"
	"strings"

	"skipline-backend/internal/apperr"
)

// Method is the channel a guest wants to be reached on
type Method string

const (
	MethodEmail Method = "email"
	MethodPhone Method = "phone"
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// French numbers: national 0X XX XX XX XX or international +33 X XX XX XX XX
	phoneRegex = regexp.MustCompile(`^(\+33|0)[1-9](\d{8})$`)
)

// IsValidEmail checks the shape of an email address
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(strings.TrimSpace(email))
}

// IsValidPhone checks a French phone number, ignoring whitespace
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(stripSpaces(phone))
}

// FormatPhone returns the +33 form of a French phone number
func FormatPhone(phone string) string {
	cleaned := stripSpaces(phone)
	if strings.HasPrefix(cleaned, "0") {
		return "+33" + cleaned[1:]
	}
	return cleaned
}

// Normalize validates value for method and returns its stored form
func Normalize(method Method, value string) (string, error) {
	switch method {
	case MethodEmail:
		v := strings.TrimSpace(value)
		if !IsValidEmail(v) {
			return "", apperr.ErrInvalidEmail
		}
		return strings.ToLower(v), nil
	case MethodPhone:
		if !IsValidPhone(value) {
			return "", apperr.ErrInvalidPhone
		}
		return FormatPhone(value), nil
	default:
		return "", apperr.ErrContactMethod
	}
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
