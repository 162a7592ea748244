//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds run much slower; keep hashing under test timeouts.
	return bcrypt.DefaultCost
}
