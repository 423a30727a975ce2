package tagr

import "io"

// Vault provides an interface for archive storage backends. Exported item
// archives are pushed to a vault and can be listed and fetched back for
// import into another repository.
// All operations use io.Reader/io.Writer for streaming to support large
// archives without loading them entirely into memory.
type Vault interface {
	// PutArchive stores an archive under the given name, overwriting any
	// previous archive with the same name.
	// size is the number of bytes that will be read from r.
	PutArchive(name string, r io.Reader, size int64) error

	// GetArchive retrieves an archive by name and writes it to w.
	GetArchive(name string, w io.Writer) error

	// ListArchives returns the names of all stored archives, sorted.
	ListArchives() ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
