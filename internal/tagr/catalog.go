package tagr

import (
	"context"

	"tagr/internal/model"
)

// Catalog is the storage backend the unit of work runs against.
type Catalog interface {
	// Begin opens a new transactional session. Every session must end with
	// exactly one Commit or Rollback.
	Begin(ctx context.Context) (Session, error)
	Close() error
}

// Session is one open transaction against the catalog. The unit of work is
// the sole writer during its lifetime; entities returned from reads are
// detached snapshots.
type Session interface {
	Commit() error
	Rollback() error

	// Users
	GetUser(ctx context.Context, login string) (*model.User, error) // nil when absent
	InsertUser(ctx context.Context, u *model.User) error
	UpdateUserPassword(ctx context.Context, login, passwordHash string) error

	// Items. GetItem loads the item with its tag links, field links and
	// DataRef; it returns nil when the id is unknown.
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	InsertItem(ctx context.Context, it *model.Item) (int64, error)
	UpdateItem(ctx context.Context, it *model.Item) error
	SetItemDataRef(ctx context.Context, itemID, dataRefID int64) error // dataRefID 0 detaches
	CountItemsWithDataRef(ctx context.Context, dataRefID int64) (int64, error)

	// Tags and fields, created lazily by unique name.
	GetOrCreateTag(ctx context.Context, name string) (*model.Tag, error)
	GetOrCreateField(ctx context.Context, name string) (*model.Field, error)
	InsertItemTag(ctx context.Context, link model.ItemTag) error
	DeleteItemTag(ctx context.Context, itemID, tagID int64, userLogin string) error
	InsertItemField(ctx context.Context, link model.ItemField) error
	UpdateItemField(ctx context.Context, link model.ItemField) error
	DeleteItemField(ctx context.Context, itemID, fieldID int64, userLogin string) error

	// Data references. GetDataRefByURL returns nil when the url is untracked.
	GetDataRefByURL(ctx context.Context, url string) (*model.DataRef, error)
	InsertDataRef(ctx context.Context, dr *model.DataRef) (int64, error)
	UpdateDataRef(ctx context.Context, dr *model.DataRef) error
	DeleteDataRef(ctx context.Context, id int64) error

	// Thumbnails.
	GetThumbnail(ctx context.Context, dataRefID, size int64) (*model.Thumbnail, error)
	UpsertThumbnail(ctx context.Context, th *model.Thumbnail) error

	// History. LatestHistoryRec returns nil when the item has no records.
	LatestHistoryRec(ctx context.Context, itemID int64) (*model.HistoryRec, error)
	InsertHistoryRec(ctx context.Context, rec *model.HistoryRec) (int64, error)

	// Query support, used by the query evaluator.
	AliveItemIDs(ctx context.Context) ([]int64, error)
	ItemIDsWithAllTags(ctx context.Context, names, users []string) ([]int64, error)
	ItemIDsWithAnyTag(ctx context.Context, names, users []string) ([]int64, error)
	ItemIDsTaggedByUsers(ctx context.Context, users []string) ([]int64, error)
	ItemIDsWithURLPrefix(ctx context.Context, prefix string) ([]int64, error)
	FieldValuesByName(ctx context.Context, fieldName string) ([]model.ItemField, error)
	GetItemsByIDs(ctx context.Context, ids []int64) ([]model.Item, error)
}
