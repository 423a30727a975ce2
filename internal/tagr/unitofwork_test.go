package tagr_test

import (
	"context"
	"testing"
	"time"

	"tagr/internal/model"
	"tagr/internal/tagr"
)

// blockingCommand parks in Execute until released, so a test can observe
// whether another command runs while it holds the unit of work.
type blockingCommand struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingCommand) Name() string { return "block" }

func (c *blockingCommand) Execute(ctx context.Context, s tagr.Session, env *tagr.Env) error {
	close(c.started)
	<-c.release
	return nil
}

func TestUnitOfWork_ExecuteSerializesCommands(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	uow, err := repo.CreateUnitOfWork(ctx)
	if err != nil {
		t.Fatalf("CreateUnitOfWork() error = %v", err)
	}

	first := &blockingCommand{started: make(chan struct{}), release: make(chan struct{})}
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		if err := uow.Execute(ctx, first); err != nil {
			t.Errorf("Execute(first) error = %v", err)
		}
	}()
	<-first.started

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- uow.Execute(ctx, &tagr.GetExpungedItemCommand{ItemID: 1})
	}()

	// The second command must wait for the first; give it a moment to
	// misbehave before releasing.
	select {
	case err := <-secondDone:
		t.Fatalf("second Execute returned (err = %v) while first command was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(first.release)
	<-firstDone
	if err := <-secondDone; !tagr.IsKind(err, tagr.KindNotFound) {
		t.Errorf("second Execute error = %v, want not found", err)
	}
	if err := uow.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestUnitOfWork_ExecuteAfterCloseFails(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	uow, err := repo.CreateUnitOfWork(ctx)
	if err != nil {
		t.Fatalf("CreateUnitOfWork() error = %v", err)
	}
	if err := uow.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = uow.Execute(ctx, &tagr.GetExpungedItemCommand{ItemID: 1})
	if !tagr.IsKind(err, tagr.KindInvalidState) {
		t.Errorf("Execute() after Close error = %v, want invalid state", err)
	}
}

func TestUnitOfWork_DoubleCloseFails(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	uow, err := repo.CreateUnitOfWork(context.Background())
	if err != nil {
		t.Fatalf("CreateUnitOfWork() error = %v", err)
	}
	if err := uow.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	err = uow.Close()
	if !tagr.IsKind(err, tagr.KindInvalidState) {
		t.Errorf("second Close() error = %v, want invalid state", err)
	}
}

func TestUnitOfWork_FailedCommandRollsBack(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	addUser(t, repo, "alice")
	ctx := context.Background()

	uow, err := repo.CreateUnitOfWork(ctx)
	if err != nil {
		t.Fatalf("CreateUnitOfWork() error = %v", err)
	}

	good := &tagr.SaveNewItemCommand{
		Item: &model.Item{Title: "kept?", UserLogin: "alice"},
	}
	if err := uow.Execute(ctx, good); err != nil {
		t.Fatalf("Execute(good) error = %v", err)
	}

	bad := &tagr.SaveNewItemCommand{
		Item: &model.Item{Title: "", UserLogin: "alice"},
	}
	if err := uow.Execute(ctx, bad); err == nil {
		t.Fatal("Execute(bad) expected error")
	}

	// Close rolls back because a command failed; the first item must be gone.
	if err := uow.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err = tryExecute(repo, &tagr.GetExpungedItemCommand{ItemID: good.ItemID})
	if !tagr.IsKind(err, tagr.KindNotFound) {
		t.Errorf("item from rolled back unit of work: error = %v, want not found", err)
	}
}

func TestUnitOfWork_MarkRollback(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	addUser(t, repo, "alice")
	ctx := context.Background()

	uow, err := repo.CreateUnitOfWork(ctx)
	if err != nil {
		t.Fatalf("CreateUnitOfWork() error = %v", err)
	}

	cmd := &tagr.SaveNewItemCommand{
		Item: &model.Item{Title: "discard me", UserLogin: "alice"},
	}
	if err := uow.Execute(ctx, cmd); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	uow.MarkRollback()
	if err := uow.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err = tryExecute(repo, &tagr.GetExpungedItemCommand{ItemID: cmd.ItemID})
	if !tagr.IsKind(err, tagr.KindNotFound) {
		t.Errorf("item from marked-rollback unit of work: error = %v, want not found", err)
	}
}

func TestUnitOfWork_CommitPersistsAcrossUnits(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	addUser(t, repo, "alice")

	cmd := &tagr.SaveNewItemCommand{
		Item: &model.Item{Title: "durable", UserLogin: "alice"},
	}
	execute(t, repo, cmd)

	it := getItem(t, repo, cmd.ItemID)
	if it.Title != "durable" {
		t.Errorf("Title = %q, want %q", it.Title, "durable")
	}
}
