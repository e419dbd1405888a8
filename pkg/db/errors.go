package db

import "strings"

// IsUniqueViolation reports whether err is a unique-constraint failure.
// With a constraintName it matches that specific constraint; without one
// it matches any duplicate-key error from Postgres or sqlite.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
