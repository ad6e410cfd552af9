//go:build race

package identity

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// Race builds hash with the library default so suites stay within timeouts.
	return bcrypt.DefaultCost
}
