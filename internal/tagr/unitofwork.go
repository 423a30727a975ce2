package tagr

import (
	"context"
	"fmt"
	"sync"
)

// Env bundles the collaborators commands need besides the open session.
type Env struct {
	FS       FilesystemManager
	BasePath string // absolute path of the repository root
	Clock    Clock
	IDGen    IDGenerator
	Logger   Logger
}

// Command is a single named operation executed inside a unit of work.
// Commands validate their preconditions before applying any mutation and
// carry their own result fields, read by the caller after Execute returns.
type Command interface {
	Name() string
	Execute(ctx context.Context, s Session, env *Env) error
}

// Repo is the entry point to the catalog: it owns the storage backend and
// hands out units of work.
type Repo struct {
	catalog Catalog
	env     Env
}

// NewRepo creates a Repo over the given catalog and repository base path.
func NewRepo(catalog Catalog, fsm FilesystemManager, basePath string, logger Logger, clock Clock, idgen IDGenerator) *Repo {
	return &Repo{
		catalog: catalog,
		env: Env{
			FS:       fsm,
			BasePath: basePath,
			Clock:    clock,
			IDGen:    idgen,
			Logger:   logger,
		},
	}
}

// BasePath returns the absolute repository root.
func (r *Repo) BasePath() string { return r.env.BasePath }

// CreateUnitOfWork opens a transactional session against the catalog.
// The caller must call Close exactly once.
func (r *Repo) CreateUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	s, err := r.catalog.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning catalog transaction: %w", err)
	}
	uow := &UnitOfWork{
		id:      r.env.IDGen.New(),
		session: s,
		env:     r.env,
		state:   stateOpen,
	}
	r.env.Logger.Debug("unit of work opened", "uow", uow.id)
	return uow, nil
}

// Close releases the underlying storage backend.
func (r *Repo) Close() error { return r.catalog.Close() }

type uowState int

const (
	stateOpen uowState = iota
	stateExecuting
	stateClosed
)

// UnitOfWork is one transactional session: commands execute one at a time,
// and the transaction commits on Close unless a command failed or the caller
// marked the unit of work for rollback.
type UnitOfWork struct {
	id      string
	session Session
	env     Env

	// execMu is held for the full duration of each command run, so two
	// Execute calls on the same unit of work never interleave. mu guards
	// only the state fields and stays cheap to take from Close.
	execMu sync.Mutex

	mu           sync.Mutex
	state        uowState
	failed       bool
	rollbackOnly bool
}

// ID returns the opaque id of this unit of work, used in logs.
func (u *UnitOfWork) ID() string { return u.id }

// Execute runs one command. Commands within a unit of work are serialized:
// a second Execute blocks until the first completes. A closed unit of work
// rejects Execute with an invalid-state error.
func (u *UnitOfWork) Execute(ctx context.Context, cmd Command) error {
	u.execMu.Lock()
	defer u.execMu.Unlock()

	u.mu.Lock()
	if u.state == stateClosed {
		u.mu.Unlock()
		return InvalidStatef("unit of work %s is closed", u.id)
	}
	u.state = stateExecuting
	u.mu.Unlock()

	u.env.Logger.Debug("executing command", "uow", u.id, "command", cmd.Name())
	err := cmd.Execute(ctx, u.session, &u.env)

	u.mu.Lock()
	u.state = stateOpen
	if err != nil {
		u.failed = true
	}
	u.mu.Unlock()

	if err != nil {
		u.env.Logger.Error("command failed", "uow", u.id, "command", cmd.Name(), "err", err)
		return fmt.Errorf("executing %s: %w", cmd.Name(), err)
	}
	return nil
}

// MarkRollback forces the transaction to roll back on Close even if every
// command succeeded.
func (u *UnitOfWork) MarkRollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rollbackOnly = true
}

// Close ends the unit of work: commit if no executed command failed and
// rollback was not requested, rollback otherwise. Closing twice is an
// invalid-state error.
func (u *UnitOfWork) Close() error {
	u.mu.Lock()
	if u.state == stateClosed {
		u.mu.Unlock()
		return InvalidStatef("unit of work %s already closed", u.id)
	}
	commit := !u.failed && !u.rollbackOnly
	u.state = stateClosed
	u.mu.Unlock()

	if commit {
		if err := u.session.Commit(); err != nil {
			return fmt.Errorf("committing unit of work %s: %w", u.id, err)
		}
		u.env.Logger.Debug("unit of work committed", "uow", u.id)
		return nil
	}

	if err := u.session.Rollback(); err != nil {
		return fmt.Errorf("rolling back unit of work %s: %w", u.id, err)
	}
	u.env.Logger.Debug("unit of work rolled back", "uow", u.id)
	return nil
}
