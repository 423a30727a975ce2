// Package archive implements export and import of catalog items as .raf
// archives. An archive is a tar stream holding a JSON manifest plus the
// managed files of the exported items, optionally encrypted before it is
// pushed to a vault.
package archive

import (
	"time"
)

// Extension is the conventional file extension for exported archives.
const Extension = ".raf"

// manifestName is the path of the manifest entry inside the tar stream.
const manifestName = "manifest.json"

// filesPrefix is the directory inside the tar stream holding managed files.
const filesPrefix = "files/"

// Manifest describes the items contained in an archive.
type Manifest struct {
	FormatVersion int            `json:"format_version"`
	ExportedAt    time.Time      `json:"exported_at"`
	ExportedBy    string         `json:"exported_by"`
	Items         []ManifestItem `json:"items"`
}

// ManifestItem is one exported item with its tags, fields and optional file.
type ManifestItem struct {
	Title  string          `json:"title"`
	Notes  string          `json:"notes,omitempty"`
	Owner  string          `json:"owner"`
	Tags   []ManifestTag   `json:"tags,omitempty"`
	Fields []ManifestField `json:"fields,omitempty"`

	// File is the archive-relative path of the item's managed file under
	// files/, empty for items without one. URL holds the target for
	// URL-type references instead.
	File string `json:"file,omitempty"`
	URL  string `json:"url,omitempty"`
	Hash string `json:"hash,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ManifestTag records a tag name and the user who attached it.
type ManifestTag struct {
	Name string `json:"name"`
	User string `json:"user,omitempty"`
}

// ManifestField records a field name, value and the user who attached it.
type ManifestField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	User  string `json:"user,omitempty"`
}

// formatVersion is written into every manifest and checked on import.
const formatVersion = 1
