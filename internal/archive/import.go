package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tagr/internal/model"
	"tagr/internal/tagr"
)

// Importer replays .raf archives into a repository. Each manifest item is
// saved as a new item; managed files are extracted to a scratch directory
// and attached at their original repository-relative paths.
type Importer struct {
	repo *tagr.Repo
}

// NewImporter creates an Importer for the given repository.
func NewImporter(repo *tagr.Repo) *Importer {
	return &Importer{repo: repo}
}

// Import reads a tar archive from r and saves its items. When ownerOverride
// is non-empty every imported item and link is attributed to that login
// instead of the logins recorded in the manifest. Returns the ids of the
// created items.
func (im *Importer) Import(ctx context.Context, r io.Reader, ownerOverride string) ([]int64, error) {
	scratch, err := os.MkdirTemp("", "tagr-import-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	manifest, err := extract(r, scratch)
	if err != nil {
		return nil, err
	}
	if manifest.FormatVersion != formatVersion {
		return nil, fmt.Errorf("unsupported archive format version %d", manifest.FormatVersion)
	}

	uow, err := im.repo.CreateUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for i := range manifest.Items {
		item, err := buildItem(&manifest.Items[i], scratch, ownerOverride)
		if err != nil {
			uow.MarkRollback()
			return nil, errors.Join(err, uow.Close())
		}
		cmd := &tagr.SaveNewItemCommand{Item: item}
		if err := uow.Execute(ctx, cmd); err != nil {
			return nil, errors.Join(err, uow.Close())
		}
		ids = append(ids, cmd.ItemID)
	}

	if err := uow.Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ImportEncrypted decrypts an archive with dc before importing it.
func (im *Importer) ImportEncrypted(ctx context.Context, r io.Reader, dc tagr.DecryptionContext, ownerOverride string) ([]int64, error) {
	var buf bytes.Buffer
	if err := dc.Decrypt(r, &buf); err != nil {
		return nil, fmt.Errorf("decrypting archive: %w", err)
	}
	return im.Import(ctx, &buf, ownerOverride)
}

// ImportFromVault fetches an archive from the vault by name and imports it.
func (im *Importer) ImportFromVault(ctx context.Context, v tagr.Vault, name string, dc tagr.DecryptionContext, ownerOverride string) ([]int64, error) {
	var buf bytes.Buffer
	if err := v.GetArchive(name, &buf); err != nil {
		return nil, err
	}
	if dc != nil {
		return im.ImportEncrypted(ctx, &buf, dc, ownerOverride)
	}
	return im.Import(ctx, &buf, ownerOverride)
}

// extract reads the tar stream, writes file entries under scratch and
// returns the decoded manifest.
func extract(r io.Reader, scratch string) (*Manifest, error) {
	var manifest *Manifest
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}

		switch {
		case hdr.Name == manifestName:
			var m Manifest
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return nil, fmt.Errorf("decoding manifest: %w", err)
			}
			manifest = &m

		case strings.HasPrefix(hdr.Name, filesPrefix):
			rel := strings.TrimPrefix(hdr.Name, filesPrefix)
			if !filepath.IsLocal(filepath.FromSlash(rel)) {
				return nil, fmt.Errorf("archive entry escapes extraction root: %s", hdr.Name)
			}
			dst := filepath.Join(scratch, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return nil, fmt.Errorf("creating extraction directory: %w", err)
			}
			f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
			if err != nil {
				return nil, fmt.Errorf("creating extracted file: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return nil, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return nil, fmt.Errorf("closing extracted file: %w", err)
			}
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("archive has no manifest")
	}
	return manifest, nil
}

// buildItem converts a manifest item into a model item ready to be saved.
func buildItem(mi *ManifestItem, scratch, ownerOverride string) (*model.Item, error) {
	owner := mi.Owner
	if ownerOverride != "" {
		owner = ownerOverride
	}
	if owner == "" {
		return nil, fmt.Errorf("item %q has no owner", mi.Title)
	}

	item := &model.Item{
		Title:     mi.Title,
		Notes:     mi.Notes,
		UserLogin: owner,
	}
	for _, tag := range mi.Tags {
		user := tag.User
		if ownerOverride != "" || user == "" {
			user = owner
		}
		item.Tags = append(item.Tags, model.ItemTag{TagName: tag.Name, UserLogin: user})
	}
	for _, field := range mi.Fields {
		user := field.User
		if ownerOverride != "" || user == "" {
			user = owner
		}
		item.Fields = append(item.Fields, model.ItemField{
			FieldName: field.Name, Value: field.Value, UserLogin: user,
		})
	}

	switch {
	case mi.File != "":
		rel := strings.TrimPrefix(mi.File, filesPrefix)
		item.DataRef = &model.DataRef{
			Type:       model.RefFile,
			SrcAbsPath: filepath.Join(scratch, filepath.FromSlash(rel)),
			DstRelPath: rel,
		}
	case mi.URL != "":
		item.DataRef = &model.DataRef{Type: model.RefURL, URL: mi.URL}
	}

	return item, nil
}
