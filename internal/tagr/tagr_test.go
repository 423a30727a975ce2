package tagr_test

import (
	"context"
	"testing"

	"tagr/internal/model"
	"tagr/internal/tagr"
	"tagr/internal/testutil"
)

const basePath = "/repo"

// newTestRepo builds a repository over an in-memory catalog and mock
// filesystem rooted at /repo.
func newTestRepo(t *testing.T) (*tagr.Repo, *testutil.MockFilesystemManager, *testutil.StubClock) {
	t.Helper()
	catalog := testutil.NewTestCatalog(t)
	fsmgr := testutil.NewMockFilesystemManager()
	clock := testutil.FixedClock()
	repo := tagr.NewRepo(catalog, fsmgr, basePath, tagr.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	return repo, fsmgr, clock
}

// execute runs one command in its own committed unit of work.
func execute(t *testing.T, repo *tagr.Repo, cmd tagr.Command) {
	t.Helper()
	if err := tryExecute(repo, cmd); err != nil {
		t.Fatalf("%s failed: %v", cmd.Name(), err)
	}
}

// tryExecute runs one command and returns its error, rolling back on failure.
func tryExecute(repo *tagr.Repo, cmd tagr.Command) error {
	ctx := context.Background()
	uow, err := repo.CreateUnitOfWork(ctx)
	if err != nil {
		return err
	}
	if err := uow.Execute(ctx, cmd); err != nil {
		uow.Close()
		return err
	}
	return uow.Close()
}

// addUser creates a known user for attribution checks.
func addUser(t *testing.T, repo *tagr.Repo, login string) {
	t.Helper()
	execute(t, repo, &tagr.SaveNewUserCommand{
		User: &model.User{Login: login, PasswordHash: tagr.HashPassword("secret")},
	})
}

// getItem fetches an item snapshot by id.
func getItem(t *testing.T, repo *tagr.Repo, id int64) *model.Item {
	t.Helper()
	cmd := &tagr.GetExpungedItemCommand{ItemID: id}
	execute(t, repo, cmd)
	return cmd.Item
}

// latestHistory reads the newest history record for an item.
func latestHistory(t *testing.T, repo *tagr.Repo, itemID int64) *model.HistoryRec {
	t.Helper()
	cmd := &probeHistoryCommand{ItemID: itemID}
	execute(t, repo, cmd)
	return cmd.Rec
}

// probeHistoryCommand reads the head of an item's history chain.
type probeHistoryCommand struct {
	ItemID int64
	Rec    *model.HistoryRec
}

func (c *probeHistoryCommand) Name() string { return "ProbeHistory" }

func (c *probeHistoryCommand) Execute(ctx context.Context, s tagr.Session, env *tagr.Env) error {
	rec, err := s.LatestHistoryRec(ctx, c.ItemID)
	if err != nil {
		return err
	}
	c.Rec = rec
	return nil
}
