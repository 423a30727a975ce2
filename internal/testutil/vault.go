package testutil

import (
	"tagr/internal/tagr"
	"tagr/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() tagr.Vault {
	return vault.NewMemoryVault("test-vault")
}
