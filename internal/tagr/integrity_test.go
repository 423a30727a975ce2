package tagr_test

import (
	"context"
	"testing"
	"time"

	"tagr/internal/model"
	"tagr/internal/tagr"
)

// rawItemCommand inserts a bare item row, bypassing history bookkeeping.
// Used to fabricate an item whose history chain is missing.
type rawItemCommand struct {
	Item *model.Item

	ItemID int64
}

func (c *rawItemCommand) Name() string { return "RawInsertItem" }

func (c *rawItemCommand) Execute(ctx context.Context, s tagr.Session, env *tagr.Env) error {
	c.Item.Alive = true
	if c.Item.CreatedAt.IsZero() {
		c.Item.CreatedAt = env.Clock.Now()
	}
	id, err := s.InsertItem(ctx, c.Item)
	if err != nil {
		return err
	}
	c.ItemID = id
	return nil
}

func checkIntegrity(t *testing.T, repo *tagr.Repo, ids ...int64) []tagr.CheckResult {
	t.Helper()
	cmd := &tagr.CheckItemsIntegrityCommand{ItemIDs: ids}
	execute(t, repo, cmd)
	return cmd.Results
}

func fixIntegrity(t *testing.T, repo *tagr.Repo, strategies tagr.FixStrategies, ids ...int64) []tagr.FixOutcome {
	t.Helper()
	cmd := &tagr.FixItemsIntegrityCommand{ItemIDs: ids, Strategies: strategies}
	execute(t, repo, cmd)
	return cmd.Results
}

func TestCheckItemsIntegrity(t *testing.T) {
	t.Run("clean item yields nothing", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})

		if results := checkIntegrity(t, repo, it.ID); len(results) != 0 {
			t.Errorf("results = %+v, want none", results)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})

		if err := fsmgr.Remove("/repo/doc.txt"); err != nil {
			t.Fatal(err)
		}

		results := checkIntegrity(t, repo, it.ID)
		if len(results) != 1 || len(results[0].Errors) != 1 || results[0].Errors[0] != tagr.ErrFileNotFound {
			t.Errorf("results = %+v, want one FILE_NOT_FOUND", results)
		}
	})

	t.Run("modified file", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})

		fsmgr.AddFile("/repo/doc.txt", []byte("tampered"))

		results := checkIntegrity(t, repo, it.ID)
		if len(results) != 1 || results[0].Errors[0] != tagr.ErrFileHashMismatch {
			t.Errorf("results = %+v, want one FILE_HASH_MISMATCH", results)
		}
	})

	t.Run("missing history record", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		addUser(t, repo, "alice")

		raw := &rawItemCommand{Item: &model.Item{Title: "no history", UserLogin: "alice"}}
		execute(t, repo, raw)

		results := checkIntegrity(t, repo, raw.ItemID)
		if len(results) != 1 || results[0].Errors[0] != tagr.ErrHistoryRecNotFound {
			t.Errorf("results = %+v, want one HISTORY_REC_NOT_FOUND", results)
		}
	})

	t.Run("progress is reported per item", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/a.txt", []byte("a"))
		fsmgr.AddFile("/repo/b.txt", []byte("b"))
		a := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/a.txt"})
		b := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/b.txt"})

		var seen []int64
		cmd := &tagr.CheckItemsIntegrityCommand{
			ItemIDs: []int64{a.ID, b.ID},
			Progress: func(done, total int, itemID int64) {
				if total != 2 {
					t.Errorf("total = %d, want 2", total)
				}
				seen = append(seen, itemID)
			},
		}
		execute(t, repo, cmd)
		if len(seen) != 2 || seen[0] != a.ID || seen[1] != b.ID {
			t.Errorf("progress items = %v, want [%d %d]", seen, a.ID, b.ID)
		}
	})

	t.Run("unknown item", func(t *testing.T) {
		repo, _, _ := newTestRepo(t)
		err := tryExecute(repo, &tagr.CheckItemsIntegrityCommand{ItemIDs: []int64{404}})
		if !tagr.IsKind(err, tagr.KindNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})
}

func TestFixItemsIntegrity(t *testing.T) {
	t.Run("missing file relocated by name and hash", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/docs/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/docs/doc.txt"})

		// The file was moved by hand outside the application.
		if err := fsmgr.Move("/repo/docs/doc.txt", "/repo/archive/doc.txt"); err != nil {
			t.Fatal(err)
		}

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{FileNotFound: tagr.FileNotFoundTryFind}, it.ID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		fixed := getItem(t, repo, it.ID)
		if fixed.DataRef.URL != "archive/doc.txt" {
			t.Errorf("URL = %q, want %q", fixed.DataRef.URL, "archive/doc.txt")
		}
		if checkIntegrity(t, repo, it.ID) != nil {
			t.Error("item still has findings after fix")
		}
	})

	t.Run("missing file with no candidate stays broken", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})
		if err := fsmgr.Remove("/repo/doc.txt"); err != nil {
			t.Fatal(err)
		}

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{FileNotFound: tagr.FileNotFoundTryFind}, it.ID)
		if len(outcomes) != 1 || outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one unfixed", outcomes)
		}
		if outcomes[0].Detail == "" {
			t.Error("unfixed outcome carries no detail")
		}
	})

	t.Run("missing file reference dropped", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("content"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})
		if err := fsmgr.Remove("/repo/doc.txt"); err != nil {
			t.Fatal(err)
		}
		before := latestHistory(t, repo, it.ID)

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{FileNotFound: tagr.FileNotFoundDeleteRef}, it.ID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		fixed := getItem(t, repo, it.ID)
		if fixed.DataRef != nil {
			t.Error("reference still attached")
		}
		after := latestHistory(t, repo, it.ID)
		if after.ID == before.ID || after.Parent1ID != before.ID {
			t.Errorf("fix did not append a chained history record: before %d, after %+v", before.ID, after)
		}
	})

	t.Run("hash mismatch accepts new content", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("v1"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})
		oldHash := it.DataRef.Hash

		fsmgr.AddFile("/repo/doc.txt", []byte("v2 different"))

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{HashMismatch: tagr.HashMismatchUpdateHash}, it.ID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		fixed := getItem(t, repo, it.ID)
		if fixed.DataRef.Hash == oldHash {
			t.Error("hash not replaced")
		}
		if fixed.DataRef.Size != int64(len("v2 different")) {
			t.Errorf("size = %d, want %d", fixed.DataRef.Size, len("v2 different"))
		}
	})

	t.Run("hash mismatch repointed to original content", func(t *testing.T) {
		repo, fsmgr, _ := newTestRepo(t)
		addUser(t, repo, "alice")
		fsmgr.AddFile("/repo/doc.txt", []byte("original"))
		it := saveWithRef(t, repo, &model.DataRef{Type: model.RefFile, SrcAbsPath: "/repo/doc.txt"})

		// The tracked path was overwritten, the original bytes live on
		// elsewhere under a different name.
		fsmgr.AddFile("/repo/doc.txt", []byte("overwritten"))
		fsmgr.AddFile("/repo/backup/doc.orig", []byte("original"))

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{HashMismatch: tagr.HashMismatchTryFindFile}, it.ID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		fixed := getItem(t, repo, it.ID)
		if fixed.DataRef.URL != "backup/doc.orig" {
			t.Errorf("URL = %q, want %q", fixed.DataRef.URL, "backup/doc.orig")
		}
	})

	t.Run("history reconstructed from current state", func(t *testing.T) {
		repo, _, clock := newTestRepo(t)
		addUser(t, repo, "alice")
		raw := &rawItemCommand{Item: &model.Item{Title: "no history", UserLogin: "alice"}}
		execute(t, repo, raw)
		createdAt := raw.Item.CreatedAt
		clock.Advance(time.Hour)

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{HistoryRec: tagr.HistoryRecTryProceed}, raw.ItemID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		rec := latestHistory(t, repo, raw.ItemID)
		if rec.Operation != model.OpCreate {
			t.Errorf("Operation = %q, want %q", rec.Operation, model.OpCreate)
		}
		if !rec.CreatedAt.Equal(createdAt) {
			t.Errorf("CreatedAt = %v, want the item's creation time %v", rec.CreatedAt, createdAt)
		}
	})

	t.Run("history renewed at current time", func(t *testing.T) {
		repo, _, clock := newTestRepo(t)
		addUser(t, repo, "alice")
		raw := &rawItemCommand{Item: &model.Item{Title: "no history", UserLogin: "alice"}}
		execute(t, repo, raw)
		clock.Advance(time.Hour)

		outcomes := fixIntegrity(t, repo, tagr.FixStrategies{HistoryRec: tagr.HistoryRecRenew}, raw.ItemID)
		if len(outcomes) != 1 || !outcomes[0].Fixed {
			t.Fatalf("outcomes = %+v, want one fixed", outcomes)
		}

		rec := latestHistory(t, repo, raw.ItemID)
		if !rec.CreatedAt.Equal(clock.Now()) {
			t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, clock.Now())
		}
	})
}
