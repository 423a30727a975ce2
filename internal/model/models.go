package model

import "time"

// UserGroup is the privilege group a user belongs to.
type UserGroup string

const (
	GroupUser  UserGroup = "USER"
	GroupAdmin UserGroup = "ADMIN"
)

// User is an account in the catalog. Login is the primary key.
type User struct {
	Login        string
	PasswordHash string // hex SHA-256 of the password
	Group        UserGroup
	CreatedAt    time.Time
}

// Item is a catalogued record representing a file or a standalone note.
type Item struct {
	ID        int64
	Title     string // never empty
	Notes     string
	UserLogin string // owning user
	CreatedAt time.Time
	Alive     bool

	// DataRef is the item's file/URL reference, nil when the item has none.
	DataRef *DataRef

	// Tags and Fields are the link rows attached to this item,
	// loaded together with the item.
	Tags   []ItemTag
	Fields []ItemField
}

// HasTag reports whether any user attached a tag with the given name.
func (i *Item) HasTag(name string) bool {
	for _, t := range i.Tags {
		if t.TagName == name {
			return true
		}
	}
	return false
}

// HasField reports whether any user attached the named field with the given value.
func (i *Item) HasField(name, value string) bool {
	for _, f := range i.Fields {
		if f.FieldName == name && f.Value == value {
			return true
		}
	}
	return false
}

// FieldValue returns the value of the named field, preferring the owner's link
// row when several users set it. The second result is false when absent.
func (i *Item) FieldValue(name string) (string, bool) {
	found := ""
	ok := false
	for _, f := range i.Fields {
		if f.FieldName != name {
			continue
		}
		if f.UserLogin == i.UserLogin {
			return f.Value, true
		}
		found, ok = f.Value, true
	}
	return found, ok
}

// RefType distinguishes file references from external URLs.
type RefType string

const (
	RefFile RefType = "FILE"
	RefURL  RefType = "URL"
)

// DataRef points at a physical file (repository-relative url) or an external
// URL. The url is unique across the catalog: items intentionally sharing a
// file point at the same DataRef row.
type DataRef struct {
	ID         int64
	URL        string // relative path for FILE, absolute url for URL
	Type       RefType
	Hash       string    // hex SHA-256 of file content; empty for URL refs
	DateHashed time.Time // zero when never hashed
	Size       int64
	CreatedAt  time.Time
	UserLogin  string

	// SrcAbsPath and DstRelPath direct the reconciliation engine when a file
	// is being attached or moved. Neither is persisted.
	SrcAbsPath string
	DstRelPath string
}

// ItemTag is one (item, tag, user) attribution row. Several users may tag the
// same item with the same tag; each attribution is a distinct row.
type ItemTag struct {
	ItemID    int64
	TagID     int64
	TagName   string
	UserLogin string
}

// ItemField is one (item, field, user) attribution row carrying the value.
type ItemField struct {
	ItemID    int64
	FieldID   int64
	FieldName string
	Value     string
	UserLogin string
}

// Tag is a keyword shared by reference across items. Created lazily on first
// use; Name is unique catalog-wide and case-sensitive.
type Tag struct {
	ID          int64
	Name        string
	SynonymCode int64 // 0 when the tag has no synonym group
}

// Field is a named key for key=value annotations. Same lazy-creation and
// uniqueness rules as Tag.
type Field struct {
	ID          int64
	Name        string
	SynonymCode int64
}

// ThumbnailDimension says which dimension of the source image Size refers to.
type ThumbnailDimension string

const (
	DimensionWidth  ThumbnailDimension = "WIDTH"
	DimensionHeight ThumbnailDimension = "HEIGHT"
)

// Thumbnail is cached preview data for a DataRef, keyed by (data_ref, size).
// It is derived data: stale whenever older than the DataRef's hash timestamp
// and regenerable at any time without loss.
type Thumbnail struct {
	DataRefID int64
	Size      int64
	Dimension ThumbnailDimension
	Data      []byte
	CreatedAt time.Time
}

// Stale reports whether the thumbnail predates the given hash timestamp.
func (t *Thumbnail) Stale(dateHashed time.Time) bool {
	return t.CreatedAt.Before(dateHashed)
}

// HistoryOperation is the kind of item mutation a HistoryRec captures.
type HistoryOperation string

const (
	OpCreate HistoryOperation = "CREATE"
	OpUpdate HistoryOperation = "UPDATE"
	OpDelete HistoryOperation = "DELETE"
)

// HistoryRec is an immutable audit entry for one item state transition.
// Parent1ID points at the item's previously-latest record (0 only for the
// first CREATE); Parent2ID is reserved for merge-like operations and stays 0
// in all base flows. Records are never mutated or deleted once written.
type HistoryRec struct {
	ID          int64
	ItemID      int64
	Operation   HistoryOperation
	UserLogin   string
	CreatedAt   time.Time
	ItemHash    string // content hash of the item's tag/field/file state
	DataRefHash string // snapshot of the file hash at this point, may be empty
	DataRefURL  string // snapshot of the file url at this point, may be empty
	Parent1ID   int64  // 0 means none
	Parent2ID   int64  // 0 means none
}
