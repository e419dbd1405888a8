package env

import "os"

// Get reads an environment variable, falling back when unset or empty.
// Empty and unset are treated the same so a blank value in a deploy
// manifest cannot silently disable a default.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
