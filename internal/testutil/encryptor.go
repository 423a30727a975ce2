package testutil

import (
	"tagr/internal/encryption"
	"tagr/internal/tagr"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() tagr.Encryptor {
	return encryption.NewTestEncryptor()
}
