// Package database implements the catalog storage contract over SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tagr/internal/database/migrations"
	"tagr/internal/model"
	"tagr/internal/tagr"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements tagr.Catalog using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog opens a catalog database at path, which can be a file
// path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// NewSQLiteCatalogFromDB wraps an existing database connection. The caller
// is responsible for ensuring the connection is properly configured.
func NewSQLiteCatalogFromDB(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

// OpenConnection opens and configures an SQLite connection with the PRAGMAs
// the catalog depends on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite allows a single writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	// Concurrent units of work wait for the writer instead of failing fast.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return db, nil
}

// MigrateUp brings the schema to the latest version.
func (c *SQLiteCatalog) MigrateUp() error { return migrations.Up(c.db) }

// CheckMigrations verifies the schema is current.
func (c *SQLiteCatalog) CheckMigrations() error { return migrations.CheckStatus(c.db) }

// DB exposes the underlying connection for tools and tests.
func (c *SQLiteCatalog) DB() *sql.DB { return c.db }

// Begin opens a transactional session.
func (c *SQLiteCatalog) Begin(ctx context.Context) (tagr.Session, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return &session{tx: tx}, nil
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error { return c.db.Close() }

var _ tagr.Catalog = (*SQLiteCatalog)(nil)

// session is one open transaction. All reads and writes of a unit of work
// go through it.
type session struct {
	tx *sql.Tx
}

var _ tagr.Session = (*session)(nil)

func (s *session) Commit() error   { return s.tx.Commit() }
func (s *session) Rollback() error { return s.tx.Rollback() }

// Users

func (s *session) GetUser(ctx context.Context, login string) (*model.User, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT login, password, user_group, date_created FROM users WHERE login = ?`, login)
	var u model.User
	if err := row.Scan(&u.Login, &u.PasswordHash, &u.Group, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

func (s *session) InsertUser(ctx context.Context, u *model.User) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO users (login, password, user_group, date_created) VALUES (?, ?, ?, ?)`,
		u.Login, u.PasswordHash, u.Group, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *session) UpdateUserPassword(ctx context.Context, login, passwordHash string) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE users SET password = ? WHERE login = ?`, passwordHash, login)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// Items

func (s *session) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, title, notes, user_login, date_created, data_ref_id, alive
		 FROM items WHERE id = ?`, id)

	var it model.Item
	var dataRefID sql.NullInt64
	if err := row.Scan(&it.ID, &it.Title, &it.Notes, &it.UserLogin, &it.CreatedAt, &dataRefID, &it.Alive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning item: %w", err)
	}

	if dataRefID.Valid {
		dr, err := s.getDataRef(ctx, dataRefID.Int64)
		if err != nil {
			return nil, err
		}
		it.DataRef = dr
	}

	tags, err := s.itemTags(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	it.Tags = tags

	fields, err := s.itemFields(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	it.Fields = fields

	return &it, nil
}

func (s *session) itemTags(ctx context.Context, itemID int64) ([]model.ItemTag, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT it.item_id, it.tag_id, t.name, it.user_login
		 FROM items_tags it JOIN tags t ON t.id = it.tag_id
		 WHERE it.item_id = ?
		 ORDER BY t.name, it.user_login`, itemID)
	if err != nil {
		return nil, fmt.Errorf("querying item tags: %w", err)
	}
	defer rows.Close()

	var links []model.ItemTag
	for rows.Next() {
		var l model.ItemTag
		if err := rows.Scan(&l.ItemID, &l.TagID, &l.TagName, &l.UserLogin); err != nil {
			return nil, fmt.Errorf("scanning item tag: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *session) itemFields(ctx context.Context, itemID int64) ([]model.ItemField, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT itf.item_id, itf.field_id, f.name, itf.field_value, itf.user_login
		 FROM items_fields itf JOIN fields f ON f.id = itf.field_id
		 WHERE itf.item_id = ?
		 ORDER BY f.name, itf.user_login`, itemID)
	if err != nil {
		return nil, fmt.Errorf("querying item fields: %w", err)
	}
	defer rows.Close()

	var links []model.ItemField
	for rows.Next() {
		var l model.ItemField
		if err := rows.Scan(&l.ItemID, &l.FieldID, &l.FieldName, &l.Value, &l.UserLogin); err != nil {
			return nil, fmt.Errorf("scanning item field: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *session) InsertItem(ctx context.Context, it *model.Item) (int64, error) {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO items (title, notes, user_login, date_created, alive) VALUES (?, ?, ?, ?, ?)`,
		it.Title, it.Notes, it.UserLogin, it.CreatedAt, it.Alive)
	if err != nil {
		return 0, fmt.Errorf("inserting item: %w", err)
	}
	return res.LastInsertId()
}

func (s *session) UpdateItem(ctx context.Context, it *model.Item) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE items SET title = ?, notes = ?, alive = ? WHERE id = ?`,
		it.Title, it.Notes, it.Alive, it.ID)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return nil
}

func (s *session) SetItemDataRef(ctx context.Context, itemID, dataRefID int64) error {
	var val any
	if dataRefID != 0 {
		val = dataRefID
	}
	_, err := s.tx.ExecContext(ctx,
		`UPDATE items SET data_ref_id = ? WHERE id = ?`, val, itemID)
	if err != nil {
		return fmt.Errorf("setting item data ref: %w", err)
	}
	return nil
}

func (s *session) CountItemsWithDataRef(ctx context.Context, dataRefID int64) (int64, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE data_ref_id = ?`, dataRefID)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting data ref holders: %w", err)
	}
	return n, nil
}

// Tags and fields

func (s *session) GetOrCreateTag(ctx context.Context, name string) (*model.Tag, error) {
	// Lazy creation guarded by the unique name constraint.
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO tags (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("creating tag: %w", err)
	}
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(synonym_code, 0) FROM tags WHERE name = ?`, name)
	var t model.Tag
	if err := row.Scan(&t.ID, &t.Name, &t.SynonymCode); err != nil {
		return nil, fmt.Errorf("scanning tag: %w", err)
	}
	return &t, nil
}

func (s *session) GetOrCreateField(ctx context.Context, name string) (*model.Field, error) {
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO fields (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("creating field: %w", err)
	}
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(synonym_code, 0) FROM fields WHERE name = ?`, name)
	var f model.Field
	if err := row.Scan(&f.ID, &f.Name, &f.SynonymCode); err != nil {
		return nil, fmt.Errorf("scanning field: %w", err)
	}
	return &f, nil
}

func (s *session) InsertItemTag(ctx context.Context, link model.ItemTag) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO items_tags (item_id, tag_id, user_login) VALUES (?, ?, ?)`,
		link.ItemID, link.TagID, link.UserLogin)
	if err != nil {
		return fmt.Errorf("inserting item tag: %w", err)
	}
	return nil
}

func (s *session) DeleteItemTag(ctx context.Context, itemID, tagID int64, userLogin string) error {
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM items_tags WHERE item_id = ? AND tag_id = ? AND user_login = ?`,
		itemID, tagID, userLogin)
	if err != nil {
		return fmt.Errorf("deleting item tag: %w", err)
	}
	return nil
}

func (s *session) InsertItemField(ctx context.Context, link model.ItemField) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO items_fields (item_id, field_id, user_login, field_value) VALUES (?, ?, ?, ?)`,
		link.ItemID, link.FieldID, link.UserLogin, link.Value)
	if err != nil {
		return fmt.Errorf("inserting item field: %w", err)
	}
	return nil
}

func (s *session) UpdateItemField(ctx context.Context, link model.ItemField) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE items_fields SET field_value = ?
		 WHERE item_id = ? AND field_id = ? AND user_login = ?`,
		link.Value, link.ItemID, link.FieldID, link.UserLogin)
	if err != nil {
		return fmt.Errorf("updating item field: %w", err)
	}
	return nil
}

func (s *session) DeleteItemField(ctx context.Context, itemID, fieldID int64, userLogin string) error {
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM items_fields WHERE item_id = ? AND field_id = ? AND user_login = ?`,
		itemID, fieldID, userLogin)
	if err != nil {
		return fmt.Errorf("deleting item field: %w", err)
	}
	return nil
}

// Data refs

func (s *session) getDataRef(ctx context.Context, id int64) (*model.DataRef, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, url, type, hash, date_hashed, size, date_created, user_login
		 FROM data_refs WHERE id = ?`, id)
	return scanDataRef(row)
}

func (s *session) GetDataRefByURL(ctx context.Context, url string) (*model.DataRef, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, url, type, hash, date_hashed, size, date_created, user_login
		 FROM data_refs WHERE url = ?`, url)
	dr, err := scanDataRef(row)
	if err != nil {
		return nil, err
	}
	return dr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataRef(row rowScanner) (*model.DataRef, error) {
	var dr model.DataRef
	var hash sql.NullString
	var dateHashed sql.NullTime
	err := row.Scan(&dr.ID, &dr.URL, &dr.Type, &hash, &dateHashed, &dr.Size, &dr.CreatedAt, &dr.UserLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning data ref: %w", err)
	}
	dr.Hash = hash.String
	if dateHashed.Valid {
		dr.DateHashed = dateHashed.Time
	}
	return &dr, nil
}

func (s *session) InsertDataRef(ctx context.Context, dr *model.DataRef) (int64, error) {
	var hash any
	if dr.Hash != "" {
		hash = dr.Hash
	}
	var dateHashed any
	if !dr.DateHashed.IsZero() {
		dateHashed = dr.DateHashed
	}
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO data_refs (url, type, hash, date_hashed, size, date_created, user_login)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dr.URL, dr.Type, hash, dateHashed, dr.Size, dr.CreatedAt, dr.UserLogin)
	if err != nil {
		return 0, fmt.Errorf("inserting data ref: %w", err)
	}
	return res.LastInsertId()
}

func (s *session) UpdateDataRef(ctx context.Context, dr *model.DataRef) error {
	var hash any
	if dr.Hash != "" {
		hash = dr.Hash
	}
	var dateHashed any
	if !dr.DateHashed.IsZero() {
		dateHashed = dr.DateHashed
	}
	_, err := s.tx.ExecContext(ctx,
		`UPDATE data_refs SET url = ?, hash = ?, date_hashed = ?, size = ? WHERE id = ?`,
		dr.URL, hash, dateHashed, dr.Size, dr.ID)
	if err != nil {
		return fmt.Errorf("updating data ref: %w", err)
	}
	return nil
}

func (s *session) DeleteDataRef(ctx context.Context, id int64) error {
	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM thumbnails WHERE data_ref_id = ?`, id); err != nil {
		return fmt.Errorf("deleting thumbnails: %w", err)
	}
	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM data_refs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting data ref: %w", err)
	}
	return nil
}

// Thumbnails

func (s *session) GetThumbnail(ctx context.Context, dataRefID, size int64) (*model.Thumbnail, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT data_ref_id, size, dimension, data, date_created
		 FROM thumbnails WHERE data_ref_id = ? AND size = ?`, dataRefID, size)
	var th model.Thumbnail
	if err := row.Scan(&th.DataRefID, &th.Size, &th.Dimension, &th.Data, &th.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning thumbnail: %w", err)
	}
	return &th, nil
}

func (s *session) UpsertThumbnail(ctx context.Context, th *model.Thumbnail) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO thumbnails (data_ref_id, size, dimension, data, date_created)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(data_ref_id, size) DO UPDATE SET
		     dimension = excluded.dimension,
		     data = excluded.data,
		     date_created = excluded.date_created`,
		th.DataRefID, th.Size, th.Dimension, th.Data, th.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting thumbnail: %w", err)
	}
	return nil
}

// History

func (s *session) LatestHistoryRec(ctx context.Context, itemID int64) (*model.HistoryRec, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, item_id, operation, user_login, date_created, item_hash,
		        COALESCE(data_ref_hash, ''), COALESCE(data_ref_url, ''),
		        COALESCE(parent1_id, 0), COALESCE(parent2_id, 0)
		 FROM history_recs WHERE item_id = ?
		 ORDER BY id DESC LIMIT 1`, itemID)
	var rec model.HistoryRec
	err := row.Scan(&rec.ID, &rec.ItemID, &rec.Operation, &rec.UserLogin, &rec.CreatedAt,
		&rec.ItemHash, &rec.DataRefHash, &rec.DataRefURL, &rec.Parent1ID, &rec.Parent2ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning history record: %w", err)
	}
	return &rec, nil
}

func (s *session) InsertHistoryRec(ctx context.Context, rec *model.HistoryRec) (int64, error) {
	var p1, p2 any
	if rec.Parent1ID != 0 {
		p1 = rec.Parent1ID
	}
	if rec.Parent2ID != 0 {
		p2 = rec.Parent2ID
	}
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO history_recs
		     (item_id, operation, user_login, date_created, item_hash,
		      data_ref_hash, data_ref_url, parent1_id, parent2_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ItemID, rec.Operation, rec.UserLogin, rec.CreatedAt, rec.ItemHash,
		nullIfEmpty(rec.DataRefHash), nullIfEmpty(rec.DataRefURL), p1, p2)
	if err != nil {
		return 0, fmt.Errorf("inserting history record: %w", err)
	}
	return res.LastInsertId()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Query support

func (s *session) AliveItemIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT id FROM items WHERE alive = 1 ORDER BY id`)
}

// ItemIDsWithAllTags matches items carrying a link for every listed tag,
// regardless of which user attached it unless users narrows the links. The
// grouped count is over distinct tags so several users tagging an item with
// the same tag cannot stand in for a missing tag.
func (s *session) ItemIDsWithAllTags(ctx context.Context, names, users []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	q := `SELECT it.item_id
	      FROM items_tags it
	      JOIN tags t ON t.id = it.tag_id
	      JOIN items i ON i.id = it.item_id
	      WHERE i.alive = 1 AND t.name IN (` + placeholders(len(names)) + `)`
	args := stringArgs(names)
	if len(users) > 0 {
		q += ` AND it.user_login IN (` + placeholders(len(users)) + `)`
		args = append(args, stringArgs(users)...)
	}
	q += ` GROUP BY it.item_id HAVING COUNT(DISTINCT t.id) = ?`
	args = append(args, len(names))
	return s.queryIDs(ctx, q, args...)
}

func (s *session) ItemIDsWithAnyTag(ctx context.Context, names, users []string) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}
	q := `SELECT DISTINCT it.item_id
	      FROM items_tags it
	      JOIN tags t ON t.id = it.tag_id
	      JOIN items i ON i.id = it.item_id
	      WHERE i.alive = 1 AND t.name IN (` + placeholders(len(names)) + `)`
	args := stringArgs(names)
	if len(users) > 0 {
		q += ` AND it.user_login IN (` + placeholders(len(users)) + `)`
		args = append(args, stringArgs(users)...)
	}
	return s.queryIDs(ctx, q, args...)
}

// ItemIDsTaggedByUsers matches items carrying at least one tag link
// attributed to any of the listed users, whatever the tag.
func (s *session) ItemIDsTaggedByUsers(ctx context.Context, users []string) ([]int64, error) {
	if len(users) == 0 {
		return nil, nil
	}
	return s.queryIDs(ctx,
		`SELECT DISTINCT it.item_id
		 FROM items_tags it
		 JOIN items i ON i.id = it.item_id
		 WHERE i.alive = 1 AND it.user_login IN (`+placeholders(len(users))+`)`,
		stringArgs(users)...)
}

func (s *session) ItemIDsWithURLPrefix(ctx context.Context, prefix string) ([]int64, error) {
	return s.queryIDs(ctx,
		`SELECT DISTINCT i.id
		 FROM items i JOIN data_refs dr ON dr.id = i.data_ref_id
		 WHERE i.alive = 1 AND dr.url LIKE ? ESCAPE '\'`, likePrefix(prefix))
}

func (s *session) FieldValuesByName(ctx context.Context, fieldName string) ([]model.ItemField, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT itf.item_id, itf.field_id, f.name, itf.field_value, itf.user_login
		 FROM items_fields itf
		 JOIN fields f ON f.id = itf.field_id
		 JOIN items i ON i.id = itf.item_id
		 WHERE i.alive = 1 AND f.name = ?`, fieldName)
	if err != nil {
		return nil, fmt.Errorf("querying field values: %w", err)
	}
	defer rows.Close()

	var links []model.ItemField
	for rows.Next() {
		var l model.ItemField
		if err := rows.Scan(&l.ItemID, &l.FieldID, &l.FieldName, &l.Value, &l.UserLogin); err != nil {
			return nil, fmt.Errorf("scanning field value: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *session) GetItemsByIDs(ctx context.Context, ids []int64) ([]model.Item, error) {
	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		it, err := s.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if it != nil {
			items = append(items, *it)
		}
	}
	return items, nil
}

func (s *session) queryIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := s.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// likePrefix escapes LIKE wildcards in a literal prefix.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
