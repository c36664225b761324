package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a syntactically valid address, using the
// same rule as the request binding tags.
func ValidEmail(email string) bool {
	return email != "" && validate.Var(email, "email") == nil
}
