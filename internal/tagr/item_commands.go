package tagr

import (
	"context"
	"fmt"
	"path/filepath"

	"tagr/internal/model"
)

// requireUser checks that the acting user login is present and known,
// before any mutation is applied.
func requireUser(ctx context.Context, s Session, login string) error {
	if login == "" {
		return Accessf("acting user login is empty")
	}
	u, err := s.GetUser(ctx, login)
	if err != nil {
		return fmt.Errorf("checking acting user: %w", err)
	}
	if u == nil {
		return Accessf("unknown user %q", login)
	}
	return nil
}

// SaveNewItemCommand persists a new item together with its tag links, field
// links and optional file reference. ItemID carries the assigned id after a
// successful Execute.
type SaveNewItemCommand struct {
	Item *model.Item

	ItemID int64
}

func (c *SaveNewItemCommand) Name() string { return "SaveNewItem" }

func (c *SaveNewItemCommand) Execute(ctx context.Context, s Session, env *Env) error {
	item := c.Item
	if err := requireUser(ctx, s, item.UserLogin); err != nil {
		return err
	}
	if item.Title == "" {
		return Validityf("item title must not be empty")
	}

	item.Alive = true
	if item.CreatedAt.IsZero() {
		item.CreatedAt = env.Clock.Now()
	}
	id, err := s.InsertItem(ctx, item)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	item.ID = id

	for i := range item.Tags {
		link := &item.Tags[i]
		tag, err := s.GetOrCreateTag(ctx, link.TagName)
		if err != nil {
			return fmt.Errorf("resolving tag %q: %w", link.TagName, err)
		}
		link.ItemID = id
		link.TagID = tag.ID
		if link.UserLogin == "" {
			link.UserLogin = item.UserLogin
		}
		if err := s.InsertItemTag(ctx, *link); err != nil {
			return fmt.Errorf("linking tag %q: %w", link.TagName, err)
		}
	}

	for i := range item.Fields {
		link := &item.Fields[i]
		field, err := s.GetOrCreateField(ctx, link.FieldName)
		if err != nil {
			return fmt.Errorf("resolving field %q: %w", link.FieldName, err)
		}
		link.ItemID = id
		link.FieldID = field.ID
		if link.UserLogin == "" {
			link.UserLogin = item.UserLogin
		}
		if err := s.InsertItemField(ctx, *link); err != nil {
			return fmt.Errorf("linking field %q: %w", link.FieldName, err)
		}
	}

	if item.DataRef != nil {
		dr, err := attachDataRef(ctx, s, env, item.DataRef, item.UserLogin)
		if err != nil {
			return err
		}
		if err := s.SetItemDataRef(ctx, id, dr.ID); err != nil {
			return fmt.Errorf("linking data ref: %w", err)
		}
		item.DataRef = dr
	}

	if _, err := appendHistory(ctx, s, env, item, model.OpCreate, item.UserLogin); err != nil {
		return err
	}

	c.ItemID = id
	env.Logger.Info("item created", "item", id, "title", item.Title)
	return nil
}

// UpdateExistingItemCommand applies the full desired state carried by Item to
// the stored item with the same id: title and notes are overwritten, tag and
// field links are diffed against the stored ones, and file reference
// transitions (attach, move, detach, replace) are delegated to the
// reconciliation engine.
type UpdateExistingItemCommand struct {
	Item      *model.Item
	UserLogin string // acting user
}

func (c *UpdateExistingItemCommand) Name() string { return "UpdateExistingItem" }

func (c *UpdateExistingItemCommand) Execute(ctx context.Context, s Session, env *Env) error {
	if err := requireUser(ctx, s, c.UserLogin); err != nil {
		return err
	}
	if c.Item.Title == "" {
		return Validityf("item title must not be empty")
	}

	stored, err := s.GetItem(ctx, c.Item.ID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", c.Item.ID, err)
	}
	if stored == nil {
		return NotFoundf("item %d", c.Item.ID)
	}

	stored.Title = c.Item.Title
	stored.Notes = c.Item.Notes
	if err := s.UpdateItem(ctx, stored); err != nil {
		return fmt.Errorf("updating item row: %w", err)
	}

	for i := range c.Item.Tags {
		if c.Item.Tags[i].UserLogin == "" {
			c.Item.Tags[i].UserLogin = c.UserLogin
		}
	}
	for i := range c.Item.Fields {
		if c.Item.Fields[i].UserLogin == "" {
			c.Item.Fields[i].UserLogin = c.UserLogin
		}
	}

	if err := diffTags(ctx, s, stored, c.Item.Tags, c.UserLogin); err != nil {
		return err
	}
	if err := diffFields(ctx, s, stored, c.Item.Fields, c.UserLogin); err != nil {
		return err
	}
	stored.Tags = c.Item.Tags
	stored.Fields = c.Item.Fields

	if err := c.reconcileFile(ctx, s, env, stored); err != nil {
		return err
	}

	if _, err := appendHistory(ctx, s, env, stored, model.OpUpdate, c.UserLogin); err != nil {
		return err
	}

	env.Logger.Info("item updated", "item", stored.ID)
	return nil
}

// reconcileFile applies the file-reference transition implied by the desired
// state: none→file, file→moved, file→removed, file→replaced.
func (c *UpdateExistingItemCommand) reconcileFile(ctx context.Context, s Session, env *Env, stored *model.Item) error {
	desired := c.Item.DataRef

	switch {
	case desired == nil && stored.DataRef == nil:
		return nil

	case desired == nil:
		// Detach only. The DataRef row and the physical file stay: other
		// items or history records may still point at them.
		if err := s.SetItemDataRef(ctx, stored.ID, 0); err != nil {
			return fmt.Errorf("detaching data ref: %w", err)
		}
		stored.DataRef = nil
		return nil

	case desired.SrcAbsPath != "":
		// Attach or replace from a source file.
		dr, err := attachDataRef(ctx, s, env, desired, c.UserLogin)
		if err != nil {
			return err
		}
		if stored.DataRef == nil || stored.DataRef.ID != dr.ID {
			if err := s.SetItemDataRef(ctx, stored.ID, dr.ID); err != nil {
				return fmt.Errorf("linking data ref: %w", err)
			}
		}
		stored.DataRef = dr
		return nil

	case desired.DstRelPath != "" && stored.DataRef != nil:
		// Move the existing file within the repository.
		if err := moveDataRef(ctx, s, env, stored.DataRef, desired.DstRelPath); err != nil {
			return err
		}
		return refreshHash(ctx, s, env, stored.DataRef)

	default:
		return nil
	}
}

func diffTags(ctx context.Context, s Session, stored *model.Item, desired []model.ItemTag, actingUser string) error {
	type key struct{ name, user string }
	want := make(map[key]bool, len(desired))
	for _, l := range desired {
		user := l.UserLogin
		if user == "" {
			user = actingUser
		}
		want[key{l.TagName, user}] = true
	}

	have := make(map[key]bool, len(stored.Tags))
	for _, l := range stored.Tags {
		have[key{l.TagName, l.UserLogin}] = true
		if !want[key{l.TagName, l.UserLogin}] {
			if err := s.DeleteItemTag(ctx, stored.ID, l.TagID, l.UserLogin); err != nil {
				return fmt.Errorf("unlinking tag %q: %w", l.TagName, err)
			}
		}
	}

	for _, l := range desired {
		user := l.UserLogin
		if user == "" {
			user = actingUser
		}
		if have[key{l.TagName, user}] {
			continue
		}
		tag, err := s.GetOrCreateTag(ctx, l.TagName)
		if err != nil {
			return fmt.Errorf("resolving tag %q: %w", l.TagName, err)
		}
		link := model.ItemTag{ItemID: stored.ID, TagID: tag.ID, TagName: l.TagName, UserLogin: user}
		if err := s.InsertItemTag(ctx, link); err != nil {
			return fmt.Errorf("linking tag %q: %w", l.TagName, err)
		}
	}
	return nil
}

func diffFields(ctx context.Context, s Session, stored *model.Item, desired []model.ItemField, actingUser string) error {
	type key struct{ name, user string }
	want := make(map[key]string, len(desired))
	for _, l := range desired {
		user := l.UserLogin
		if user == "" {
			user = actingUser
		}
		want[key{l.FieldName, user}] = l.Value
	}

	have := make(map[key]string, len(stored.Fields))
	haveID := make(map[key]int64, len(stored.Fields))
	for _, l := range stored.Fields {
		k := key{l.FieldName, l.UserLogin}
		have[k] = l.Value
		haveID[k] = l.FieldID
		if _, ok := want[k]; !ok {
			if err := s.DeleteItemField(ctx, stored.ID, l.FieldID, l.UserLogin); err != nil {
				return fmt.Errorf("unlinking field %q: %w", l.FieldName, err)
			}
		}
	}

	for _, l := range desired {
		user := l.UserLogin
		if user == "" {
			user = actingUser
		}
		k := key{l.FieldName, user}
		stored_, ok := have[k]
		if ok && stored_ == l.Value {
			continue
		}
		if ok {
			link := model.ItemField{ItemID: stored.ID, FieldID: haveID[k], FieldName: l.FieldName, Value: l.Value, UserLogin: user}
			if err := s.UpdateItemField(ctx, link); err != nil {
				return fmt.Errorf("updating field %q: %w", l.FieldName, err)
			}
			continue
		}
		field, err := s.GetOrCreateField(ctx, l.FieldName)
		if err != nil {
			return fmt.Errorf("resolving field %q: %w", l.FieldName, err)
		}
		link := model.ItemField{ItemID: stored.ID, FieldID: field.ID, FieldName: l.FieldName, Value: l.Value, UserLogin: user}
		if err := s.InsertItemField(ctx, link); err != nil {
			return fmt.Errorf("linking field %q: %w", l.FieldName, err)
		}
	}
	return nil
}

// DeleteItemCommand performs a logical delete: alive goes false and the file
// reference is detached. Tag and field link rows are kept as historical
// artifacts. The physical file is removed only when DeletePhysicalFile is
// set, and the DataRef row only goes with it when no other item still
// references it.
type DeleteItemCommand struct {
	ItemID             int64
	UserLogin          string
	DeletePhysicalFile bool
}

func (c *DeleteItemCommand) Name() string { return "DeleteItem" }

func (c *DeleteItemCommand) Execute(ctx context.Context, s Session, env *Env) error {
	if err := requireUser(ctx, s, c.UserLogin); err != nil {
		return err
	}

	item, err := s.GetItem(ctx, c.ItemID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", c.ItemID, err)
	}
	if item == nil {
		return NotFoundf("item %d", c.ItemID)
	}

	ref := item.DataRef
	item.Alive = false
	if err := s.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("updating item row: %w", err)
	}
	if ref != nil {
		if err := s.SetItemDataRef(ctx, item.ID, 0); err != nil {
			return fmt.Errorf("detaching data ref: %w", err)
		}
		item.DataRef = nil
	}

	if ref != nil && c.DeletePhysicalFile && ref.Type == model.RefFile {
		holders, err := s.CountItemsWithDataRef(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("counting data ref holders: %w", err)
		}
		if holders == 0 {
			abs := filepath.Join(env.BasePath, filepath.FromSlash(ref.URL))
			if err := env.FS.Remove(abs); err != nil {
				return &IOError{Stage: "remove", Src: abs, Err: err}
			}
			if err := s.DeleteDataRef(ctx, ref.ID); err != nil {
				return fmt.Errorf("deleting data ref row: %w", err)
			}
			env.Logger.Info("file deleted", "path", abs)
		}
	}

	if _, err := appendHistory(ctx, s, env, item, model.OpDelete, c.UserLogin); err != nil {
		return err
	}

	env.Logger.Info("item deleted", "item", item.ID)
	return nil
}

// GetExpungedItemCommand fetches a detached snapshot of an item by id.
type GetExpungedItemCommand struct {
	ItemID int64

	Item *model.Item
}

func (c *GetExpungedItemCommand) Name() string { return "GetExpungedItem" }

func (c *GetExpungedItemCommand) Execute(ctx context.Context, s Session, env *Env) error {
	item, err := s.GetItem(ctx, c.ItemID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", c.ItemID, err)
	}
	if item == nil {
		return NotFoundf("item %d", c.ItemID)
	}
	c.Item = item
	return nil
}

// SaveThumbnailCommand stores caller-generated thumbnail data for a data
// reference. Thumbnails are derived data and may be overwritten at any time.
type SaveThumbnailCommand struct {
	Thumbnail *model.Thumbnail
}

func (c *SaveThumbnailCommand) Name() string { return "SaveThumbnail" }

func (c *SaveThumbnailCommand) Execute(ctx context.Context, s Session, env *Env) error {
	th := c.Thumbnail
	if th.DataRefID == 0 || th.Size <= 0 {
		return Validityf("thumbnail needs a data ref id and a positive size")
	}
	if th.Dimension != model.DimensionWidth && th.Dimension != model.DimensionHeight {
		return Validityf("unknown thumbnail dimension %q", th.Dimension)
	}
	th.CreatedAt = env.Clock.Now()
	if err := s.UpsertThumbnail(ctx, th); err != nil {
		return fmt.Errorf("storing thumbnail: %w", err)
	}
	return nil
}
