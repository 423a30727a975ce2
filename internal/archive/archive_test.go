package archive_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"tagr/internal/archive"
	"tagr/internal/fs"
	"tagr/internal/model"
	"tagr/internal/tagr"
	"tagr/internal/testutil"
)

// testRepo is a repository over a real temporary directory, so exported
// files can be read back and imported files land on disk.
type testRepo struct {
	repo *tagr.Repo
	base string
}

func newArchiveRepo(t *testing.T) *testRepo {
	t.Helper()
	base := t.TempDir()
	catalog := testutil.NewTestCatalog(t)
	repo := tagr.NewRepo(catalog, fs.NewOSFilesystemManager(), base,
		tagr.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	return &testRepo{repo: repo, base: base}
}

func (r *testRepo) execute(t *testing.T, cmd tagr.Command) {
	t.Helper()
	ctx := context.Background()
	uow, err := r.repo.CreateUnitOfWork(ctx)
	if err != nil {
		t.Fatalf("CreateUnitOfWork failed: %v", err)
	}
	if err := uow.Execute(ctx, cmd); err != nil {
		uow.Close()
		t.Fatalf("%s failed: %v", cmd.Name(), err)
	}
	if err := uow.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func (r *testRepo) addUser(t *testing.T, login string) {
	t.Helper()
	r.execute(t, &tagr.SaveNewUserCommand{
		User: &model.User{Login: login, PasswordHash: tagr.HashPassword("secret")},
	})
}

func (r *testRepo) getItem(t *testing.T, id int64) *model.Item {
	t.Helper()
	cmd := &tagr.GetExpungedItemCommand{ItemID: id}
	r.execute(t, cmd)
	return cmd.Item
}

func (r *testRepo) writeFile(t *testing.T, rel string, content []byte) string {
	t.Helper()
	abs := filepath.Join(r.base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, content, 0644); err != nil {
		t.Fatal(err)
	}
	return abs
}

// seed saves one file-backed item, one url item and one bare item, and
// returns the loaded snapshots.
func seed(t *testing.T, r *testRepo) []*model.Item {
	t.Helper()
	r.addUser(t, "alice")
	src := r.writeFile(t, "docs/song.txt", []byte("la la la"))

	cmds := []*tagr.SaveNewItemCommand{
		{Item: &model.Item{
			Title: "song", Notes: "a file item", UserLogin: "alice",
			Tags:    []model.ItemTag{{TagName: "Txt"}, {TagName: "Lyrics"}},
			Fields:  []model.ItemField{{FieldName: "Rating", Value: "5"}},
			DataRef: &model.DataRef{Type: model.RefFile, SrcAbsPath: src},
		}},
		{Item: &model.Item{
			Title: "paper", UserLogin: "alice",
			DataRef: &model.DataRef{Type: model.RefURL, URL: "https://example.org/paper"},
		}},
		{Item: &model.Item{Title: "bare", UserLogin: "alice"}},
	}
	items := make([]*model.Item, 0, len(cmds))
	for _, cmd := range cmds {
		r.execute(t, cmd)
		items = append(items, r.getItem(t, cmd.ItemID))
	}
	return items
}

func exportItems(t *testing.T, r *testRepo, items []*model.Item) []byte {
	t.Helper()
	detached := make([]model.Item, 0, len(items))
	for _, it := range items {
		detached = append(detached, *it)
	}
	var buf bytes.Buffer
	exp := archive.NewExporter(fs.NewOSFilesystemManager(), r.base, testutil.FixedClock())
	if err := exp.Export(context.Background(), &buf, detached, "alice"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	return buf.Bytes()
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newArchiveRepo(t)
	items := seed(t, src)
	data := exportItems(t, src, items)

	dst := newArchiveRepo(t)
	dst.addUser(t, "alice")
	ids, err := archive.NewImporter(dst.repo).Import(context.Background(), bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("imported %d items, want 3", len(ids))
	}

	got := dst.getItem(t, ids[0])
	if got.Title != "song" || got.Notes != "a file item" || got.UserLogin != "alice" {
		t.Errorf("item = %+v", got)
	}
	if !got.HasTag("Txt") || !got.HasTag("Lyrics") {
		t.Errorf("tags = %v", got.Tags)
	}
	if !got.HasField("Rating", "5") {
		t.Errorf("fields = %v", got.Fields)
	}
	if got.DataRef == nil || got.DataRef.URL != "docs/song.txt" {
		t.Fatalf("DataRef = %+v, want original relative path", got.DataRef)
	}
	if got.DataRef.Hash != items[0].DataRef.Hash {
		t.Errorf("hash = %q, want %q", got.DataRef.Hash, items[0].DataRef.Hash)
	}
	content, err := os.ReadFile(filepath.Join(dst.base, "docs", "song.txt"))
	if err != nil || string(content) != "la la la" {
		t.Errorf("imported file content = %q, %v", content, err)
	}

	urlItem := dst.getItem(t, ids[1])
	if urlItem.DataRef == nil || urlItem.DataRef.URL != "https://example.org/paper" || urlItem.DataRef.Type != model.RefURL {
		t.Errorf("url item DataRef = %+v", urlItem.DataRef)
	}

	if bare := dst.getItem(t, ids[2]); bare.DataRef != nil {
		t.Errorf("bare item grew a DataRef: %+v", bare.DataRef)
	}
}

func TestImportOwnerOverride(t *testing.T) {
	src := newArchiveRepo(t)
	items := seed(t, src)
	data := exportItems(t, src, items)

	dst := newArchiveRepo(t)
	dst.addUser(t, "carol")
	ids, err := archive.NewImporter(dst.repo).Import(context.Background(), bytes.NewReader(data), "carol")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	for _, id := range ids {
		it := dst.getItem(t, id)
		if it.UserLogin != "carol" {
			t.Errorf("item %d owner = %q, want carol", id, it.UserLogin)
		}
		for _, l := range it.Tags {
			if l.UserLogin != "carol" {
				t.Errorf("tag %q user = %q, want carol", l.TagName, l.UserLogin)
			}
		}
		for _, l := range it.Fields {
			if l.UserLogin != "carol" {
				t.Errorf("field %q user = %q, want carol", l.FieldName, l.UserLogin)
			}
		}
	}
}

func TestEncryptedRoundTripViaVault(t *testing.T) {
	src := newArchiveRepo(t)
	items := seed(t, src)
	detached := make([]model.Item, 0, len(items))
	for _, it := range items {
		detached = append(detached, *it)
	}

	enc := testutil.NewTestEncryptor()
	if err := enc.Setup("passphrase"); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	v := testutil.NewTestVault()

	exp := archive.NewExporter(fs.NewOSFilesystemManager(), src.base, testutil.FixedClock())
	name := "backup" + archive.Extension
	if err := exp.ExportToVault(context.Background(), v, name, detached, "alice", enc); err != nil {
		t.Fatalf("ExportToVault failed: %v", err)
	}

	names, err := v.ListArchives()
	if err != nil || len(names) != 1 || names[0] != name {
		t.Fatalf("ListArchives = %v, %v", names, err)
	}

	dc, err := enc.Unlock("passphrase")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	dst := newArchiveRepo(t)
	dst.addUser(t, "alice")
	ids, err := archive.NewImporter(dst.repo).ImportFromVault(context.Background(), v, name, dc, "")
	if err != nil {
		t.Fatalf("ImportFromVault failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("imported %d items, want 3", len(ids))
	}
	if got := dst.getItem(t, ids[0]); got.Title != "song" {
		t.Errorf("Title = %q, want song", got.Title)
	}
}

func TestImportRejectsUnknownFormatVersion(t *testing.T) {
	src := newArchiveRepo(t)
	items := seed(t, src)
	data := exportItems(t, src, items)

	// Corrupt the version inside the manifest.
	broken := bytes.Replace(data, []byte(`"format_version": 1`), []byte(`"format_version": 99`), 1)
	if bytes.Equal(broken, data) {
		t.Skip("manifest encoding changed, version marker not found")
	}

	dst := newArchiveRepo(t)
	dst.addUser(t, "alice")
	if _, err := archive.NewImporter(dst.repo).Import(context.Background(), bytes.NewReader(broken), ""); err == nil {
		t.Fatal("Import accepted an unknown format version")
	}
}
