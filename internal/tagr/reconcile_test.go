package tagr_test

import (
	"errors"
	"testing"
	"time"

	"tagr/internal/model"
	"tagr/internal/tagr"
)

func saveWithRef(t *testing.T, repo *tagr.Repo, ref *model.DataRef) *model.Item {
	t.Helper()
	cmd := &tagr.SaveNewItemCommand{
		Item: &model.Item{Title: "file item", UserLogin: "alice", DataRef: ref},
	}
	execute(t, repo, cmd)
	return getItem(t, repo, cmd.ItemID)
}

func TestAttachDataRef(t *testing.T) {
	t.Run("source inside repository stays in place", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/docs/a.txt", []byte("alpha"))

		it := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/repo/docs/a.txt",
		})

		if it.DataRef.URL != "docs/a.txt" {
			t.Errorf("URL = %q, want %q", it.DataRef.URL, "docs/a.txt")
		}
		if it.DataRef.Hash == "" || it.DataRef.Size != int64(len("alpha")) {
			t.Errorf("hash/size = %q/%d, want non-empty/5", it.DataRef.Hash, it.DataRef.Size)
		}
		if !fsmgr.HasFile("/repo/docs/a.txt") {
			t.Error("file moved away from its original location")
		}
	})

	t.Run("outside source copied to repository root", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/home/alice/song.mp3", []byte("audio"))

		it := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/home/alice/song.mp3",
		})

		if it.DataRef.URL != "song.mp3" {
			t.Errorf("URL = %q, want %q", it.DataRef.URL, "song.mp3")
		}
		if !fsmgr.HasFile("/repo/song.mp3") {
			t.Error("file not copied into the repository")
		}
		if !fsmgr.HasFile("/home/alice/song.mp3") {
			t.Error("outside source was removed, expected a copy")
		}
	})

	t.Run("outside source copied to explicit destination", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/home/alice/song.mp3", []byte("audio"))

		it := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/home/alice/song.mp3", DstRelPath: "music/2024/song.mp3",
		})

		if it.DataRef.URL != "music/2024/song.mp3" {
			t.Errorf("URL = %q, want %q", it.DataRef.URL, "music/2024/song.mp3")
		}
		if !fsmgr.HasFile("/repo/music/2024/song.mp3") {
			t.Error("file not copied to destination")
		}
	})

	t.Run("inside source moved to explicit destination", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/inbox/x.pdf", []byte("pdf"))

		it := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/repo/inbox/x.pdf", DstRelPath: "papers/x.pdf",
		})

		if it.DataRef.URL != "papers/x.pdf" {
			t.Errorf("URL = %q, want %q", it.DataRef.URL, "papers/x.pdf")
		}
		if !fsmgr.HasFile("/repo/papers/x.pdf") {
			t.Error("file not at destination")
		}
		if fsmgr.HasFile("/repo/inbox/x.pdf") {
			t.Error("inside source not moved, found a leftover copy")
		}
	})

	t.Run("missing source fails", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		addUser(t, repo, "alice")

		err := tryExecute(repo, &tagr.SaveNewItemCommand{
			Item: &model.Item{
				Title: "x", UserLogin: "alice",
				DataRef: &model.DataRef{Type: model.RefFile, SrcAbsPath: "/nowhere/gone.txt"},
			},
		})
		var ioErr *tagr.IOError
		if !errors.As(err, &ioErr) {
			t.Fatalf("error = %v, want IOError", err)
		}
	})

	t.Run("relative source path rejected", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		addUser(t, repo, "alice")

		err := tryExecute(repo, &tagr.SaveNewItemCommand{
			Item: &model.Item{
				Title: "x", UserLogin: "alice",
				DataRef: &model.DataRef{Type: model.RefFile, SrcAbsPath: "docs/a.txt"},
			},
		})
		if !tagr.IsKind(err, tagr.KindValidity) {
			t.Errorf("error = %v, want validity", err)
		}
	})

	t.Run("tracked url shares the existing row", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/shared.dat", []byte("payload"))

		first := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/repo/shared.dat",
		})
		second := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefFile, SrcAbsPath: "/repo/shared.dat",
		})

		if first.DataRef.ID != second.DataRef.ID {
			t.Errorf("ref ids differ: %d vs %d, want shared row", first.DataRef.ID, second.DataRef.ID)
		}
	})

	t.Run("url reference never touches the filesystem", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		addUser(t, repo, "alice")

		first := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefURL, URL: "https://example.org/paper",
		})
		second := saveWithRef(t, repo, &model.DataRef{
			Type: model.RefURL, URL: "https://example.org/paper",
		})

		if first.DataRef.Hash != "" {
			t.Errorf("url ref has hash %q, want empty", first.DataRef.Hash)
		}
		if first.DataRef.ID != second.DataRef.ID {
			t.Error("identical urls produced separate rows")
		}
	})

	t.Run("empty url reference rejected", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		addUser(t, repo, "alice")

		err := tryExecute(repo, &tagr.SaveNewItemCommand{
			Item: &model.Item{
				Title: "x", UserLogin: "alice",
				DataRef: &model.DataRef{Type: model.RefURL},
			},
		})
		if !tagr.IsKind(err, tagr.KindValidity) {
			t.Errorf("error = %v, want validity", err)
		}
	})
}

func TestMoveDataRef(t *testing.T) {
	repo, fsmgr, _ := newTestRepo(t)
	addUser(t, repo, "alice")
	fsmgr.AddFile("/repo/old/name.txt", []byte("stay the same"))

	it := saveWithRef(t, repo, &model.DataRef{
		Type: model.RefFile, SrcAbsPath: "/repo/old/name.txt",
	})

	execute(t, repo, &tagr.UpdateExistingItemCommand{
		Item: &model.Item{
			ID:      it.ID,
			Title:   it.Title,
			DataRef: &model.DataRef{DstRelPath: "new/name.txt"},
		},
		UserLogin: "alice",
	})

	moved := getItem(t, repo, it.ID)
	if moved.DataRef.URL != "new/name.txt" {
		t.Errorf("URL = %q, want %q", moved.DataRef.URL, "new/name.txt")
	}
	if moved.DataRef.Hash != it.DataRef.Hash {
		t.Error("hash changed on a pure move")
	}
	if !fsmgr.HasFile("/repo/new/name.txt") || fsmgr.HasFile("/repo/old/name.txt") {
		t.Error("file not moved on disk")
	}
}

func TestRefreshHashOnReattach(t *testing.T) {
	repo, fsmgr, clock := newTestRepo(t)
	addUser(t, repo, "alice")
	fsmgr.AddFile("/repo/doc.txt", []byte("v1"))
	fsmgr.SetModTime("/repo/doc.txt", clock.Now().Add(-time.Hour))

	it := saveWithRef(t, repo, &model.DataRef{
		Type: model.RefFile, SrcAbsPath: "/repo/doc.txt",
	})
	oldHash := it.DataRef.Hash

	// Modify the file after the recorded hash timestamp.
	fsmgr.AddFile("/repo/doc.txt", []byte("v2 with more bytes"))
	fsmgr.SetModTime("/repo/doc.txt", clock.Now().Add(time.Hour))
	clock.Advance(2 * time.Hour)

	second := saveWithRef(t, repo, &model.DataRef{
		Type: model.RefFile, SrcAbsPath: "/repo/doc.txt",
	})

	if second.DataRef.ID != it.DataRef.ID {
		t.Fatal("expected the shared row to be reused")
	}
	if second.DataRef.Hash == oldHash {
		t.Error("hash not refreshed after file modification")
	}
	if second.DataRef.Size != int64(len("v2 with more bytes")) {
		t.Errorf("size = %d, want %d", second.DataRef.Size, len("v2 with more bytes"))
	}
}

func TestDetachKeepsRowAndFile(t *testing.T) {
	repo, fsmgr, _ := newTestRepo(t)
	addUser(t, repo, "alice")
	fsmgr.AddFile("/repo/doc.txt", []byte("content"))

	it := saveWithRef(t, repo, &model.DataRef{
		Type: model.RefFile, SrcAbsPath: "/repo/doc.txt",
	})

	execute(t, repo, &tagr.UpdateExistingItemCommand{
		Item:      &model.Item{ID: it.ID, Title: it.Title},
		UserLogin: "alice",
	})

	detached := getItem(t, repo, it.ID)
	if detached.DataRef != nil {
		t.Error("DataRef still attached")
	}
	if !fsmgr.HasFile("/repo/doc.txt") {
		t.Error("detach removed the physical file")
	}

	// Re-attaching the same path finds the kept row again.
	again := saveWithRef(t, repo, &model.DataRef{
		Type: model.RefFile, SrcAbsPath: "/repo/doc.txt",
	})
	if again.DataRef.ID != it.DataRef.ID {
		t.Error("kept row not reused on re-attach")
	}
}
