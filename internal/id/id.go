package id

import "github.com/google/uuid"

// New returns a random job identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s has the shape of an identifier returned by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
