package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"tagr/internal/model"
	"tagr/internal/tagr"
)

// Exporter writes catalog items into .raf archives.
type Exporter struct {
	fs       tagr.FilesystemManager
	basePath string
	clock    tagr.Clock
}

// NewExporter creates an Exporter for a repository rooted at basePath.
func NewExporter(fs tagr.FilesystemManager, basePath string, clock tagr.Clock) *Exporter {
	return &Exporter{fs: fs, basePath: basePath, clock: clock}
}

// Export writes the given items and their managed files as a tar archive to w.
// exportedBy records the login of the user performing the export.
func (e *Exporter) Export(ctx context.Context, w io.Writer, items []model.Item, exportedBy string) error {
	manifest := Manifest{
		FormatVersion: formatVersion,
		ExportedAt:    e.clock.Now().UTC(),
		ExportedBy:    exportedBy,
	}
	for i := range items {
		manifest.Items = append(manifest.Items, manifestItem(&items[i]))
	}

	manifestData, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tw := tar.NewWriter(w)

	hdr := &tar.Header{
		Name:    manifestName,
		Mode:    0644,
		Size:    int64(len(manifestData)),
		ModTime: manifest.ExportedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing manifest header: %w", err)
	}
	if _, err := tw.Write(manifestData); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	written := make(map[string]bool)
	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		it := &items[i]
		if it.DataRef == nil || it.DataRef.Type != model.RefFile {
			continue
		}
		// Items sharing a reference contribute the file once.
		if written[it.DataRef.URL] {
			continue
		}
		if err := e.writeFile(tw, it.DataRef, manifest.ExportedAt); err != nil {
			return err
		}
		written[it.DataRef.URL] = true
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// ExportEncrypted writes an encrypted archive to w using enc.
func (e *Exporter) ExportEncrypted(ctx context.Context, w io.Writer, items []model.Item, exportedBy string, enc tagr.Encryptor) error {
	var buf bytes.Buffer
	if err := e.Export(ctx, &buf, items, exportedBy); err != nil {
		return err
	}
	if err := enc.Encrypt(&buf, w); err != nil {
		return fmt.Errorf("encrypting archive: %w", err)
	}
	return nil
}

// ExportToVault builds an archive and stores it in the vault under name.
// When enc is non-nil the archive is encrypted first.
func (e *Exporter) ExportToVault(ctx context.Context, v tagr.Vault, name string, items []model.Item, exportedBy string, enc tagr.Encryptor) error {
	var buf bytes.Buffer
	if enc != nil {
		if err := e.ExportEncrypted(ctx, &buf, items, exportedBy, enc); err != nil {
			return err
		}
	} else {
		if err := e.Export(ctx, &buf, items, exportedBy); err != nil {
			return err
		}
	}
	if err := v.PutArchive(name, &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("storing archive %s: %w", name, err)
	}
	return nil
}

func (e *Exporter) writeFile(tw *tar.Writer, dr *model.DataRef, modTime time.Time) error {
	abs := absFilePath(e.basePath, dr.URL)
	info, err := e.fs.Stat(abs)
	if err != nil {
		return fmt.Errorf("stating %s: %w", dr.URL, err)
	}

	hdr := &tar.Header{
		Name:    path.Join(filesPrefix, dr.URL),
		Mode:    0644,
		Size:    info.Size(),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing file header for %s: %w", dr.URL, err)
	}

	f, err := e.fs.Open(abs)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dr.URL, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("writing %s: %w", dr.URL, err)
	}
	return nil
}

func manifestItem(it *model.Item) ManifestItem {
	mi := ManifestItem{
		Title: it.Title,
		Notes: it.Notes,
		Owner: it.UserLogin,
	}
	for _, l := range it.Tags {
		mi.Tags = append(mi.Tags, ManifestTag{Name: l.TagName, User: l.UserLogin})
	}
	for _, l := range it.Fields {
		mi.Fields = append(mi.Fields, ManifestField{Name: l.FieldName, Value: l.Value, User: l.UserLogin})
	}
	if it.DataRef != nil {
		switch it.DataRef.Type {
		case model.RefFile:
			mi.File = path.Join(filesPrefix, it.DataRef.URL)
			mi.Hash = it.DataRef.Hash
			mi.Size = it.DataRef.Size
		case model.RefURL:
			mi.URL = it.DataRef.URL
		}
	}
	return mi
}

// absFilePath resolves a repository-relative url to an absolute path.
func absFilePath(basePath, url string) string {
	return filepath.Join(basePath, filepath.FromSlash(url))
}
