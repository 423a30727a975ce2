package vault

import (
	"testing"

	"tagr/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		v, err := NewVaultFromConfig(config.VaultConfig{Type: "memory", Name: "m"})
		if err != nil {
			t.Fatalf("NewVaultFromConfig() error = %v", err)
		}
		if _, ok := v.(*MemoryVault); !ok {
			t.Errorf("NewVaultFromConfig() = %T, want *MemoryVault", v)
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		v, err := NewVaultFromConfig(config.VaultConfig{
			Type: "filesystem", Name: "f", FSVaultRoot: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("NewVaultFromConfig() error = %v", err)
		}
		if _, ok := v.(*FileSystemVault); !ok {
			t.Errorf("NewVaultFromConfig() = %T, want *FileSystemVault", v)
		}
	})

	t.Run("filesystem without root", func(t *testing.T) {
		if _, err := NewVaultFromConfig(config.VaultConfig{Type: "filesystem"}); err == nil {
			t.Error("NewVaultFromConfig() expected error for missing fs_vault_root")
		}
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		if _, err := NewVaultFromConfig(config.VaultConfig{Type: "s3"}); err == nil {
			t.Error("NewVaultFromConfig() expected error for missing bucket")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewVaultFromConfig(config.VaultConfig{Type: "tape"}); err == nil {
			t.Error("NewVaultFromConfig() expected error for unknown type")
		}
	})
}
