package tagr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"tagr/internal/model"
)

// IntegrityErr classifies one catalog/filesystem divergence found on an
// item. Findings are data, not errors: "item has a problem" is an expected
// outcome of a check.
type IntegrityErr string

const (
	ErrFileNotFound       IntegrityErr = "FILE_NOT_FOUND"
	ErrFileHashMismatch   IntegrityErr = "FILE_HASH_MISMATCH"
	ErrHistoryRecNotFound IntegrityErr = "HISTORY_REC_NOT_FOUND"
)

// Remediation strategies, one enum per error kind.

type FileNotFoundStrategy int

const (
	// FileNotFoundTryFind searches the repository for a file with the same
	// base name and the stored content hash, and repoints the reference.
	FileNotFoundTryFind FileNotFoundStrategy = iota
	// FileNotFoundDeleteRef detaches the dangling reference from the item.
	FileNotFoundDeleteRef
)

type HashMismatchStrategy int

const (
	// HashMismatchTryFindFile searches the repository for a file whose
	// content matches the stored hash and repoints the reference at it.
	HashMismatchTryFindFile HashMismatchStrategy = iota
	// HashMismatchUpdateHash accepts the new content and stores its hash.
	HashMismatchUpdateHash
)

type HistoryRecStrategy int

const (
	// HistoryRecTryProceed reconstructs a plausible CREATE record from the
	// item's current state, stamped with the item's creation time.
	HistoryRecTryProceed HistoryRecStrategy = iota
	// HistoryRecRenew writes a fresh baseline CREATE record at the current
	// time.
	HistoryRecRenew
)

// FixStrategies selects, per error kind, which remediation to run.
type FixStrategies struct {
	FileNotFound FileNotFoundStrategy
	HashMismatch HashMismatchStrategy
	HistoryRec   HistoryRecStrategy
}

// CheckResult lists the integrity errors found on one item.
type CheckResult struct {
	ItemID int64
	Errors []IntegrityErr
}

// FixOutcome reports one attempted remediation. A fix either mutated state
// (Fixed true, with a new history record) or carries the reason it could
// not (Fixed false, Detail set); it is never silent.
type FixOutcome struct {
	ItemID   int64
	Err      IntegrityErr
	Strategy string
	Fixed    bool
	Detail   string
}

// ProgressFunc reports incremental progress of a bulk command. Returning is
// cheap; cancellation goes through the context instead.
type ProgressFunc func(done, total int, itemID int64)

// CheckItemsIntegrityCommand classifies each given item into zero or more
// integrity errors. Results carries one entry per item with findings.
type CheckItemsIntegrityCommand struct {
	ItemIDs  []int64
	Progress ProgressFunc

	Results []CheckResult
}

func (c *CheckItemsIntegrityCommand) Name() string { return "CheckItemsIntegrity" }

func (c *CheckItemsIntegrityCommand) Execute(ctx context.Context, s Session, env *Env) error {
	for i, id := range c.ItemIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := s.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("loading item %d: %w", id, err)
		}
		if item == nil {
			return NotFoundf("item %d", id)
		}
		errs, err := checkItem(ctx, s, env, item)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			c.Results = append(c.Results, CheckResult{ItemID: id, Errors: errs})
		}
		if c.Progress != nil {
			c.Progress(i+1, len(c.ItemIDs), id)
		}
	}
	return nil
}

func checkItem(ctx context.Context, s Session, env *Env, item *model.Item) ([]IntegrityErr, error) {
	var errs []IntegrityErr

	if ref := item.DataRef; ref != nil && ref.Type == model.RefFile {
		abs := filepath.Join(env.BasePath, filepath.FromSlash(ref.URL))
		_, statErr := env.FS.Stat(abs)
		switch {
		case errors.Is(statErr, fs.ErrNotExist):
			errs = append(errs, ErrFileNotFound)
		case statErr != nil:
			return nil, &IOError{Stage: "stat", Src: abs, Err: statErr}
		default:
			hash, _, err := env.FS.HashFile(abs)
			if err != nil {
				return nil, &IOError{Stage: "hash", Src: abs, Err: err}
			}
			if hash != ref.Hash {
				errs = append(errs, ErrFileHashMismatch)
			}
		}
	}

	latest, err := s.LatestHistoryRec(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("reading history of item %d: %w", item.ID, err)
	}
	if latest == nil {
		errs = append(errs, ErrHistoryRecNotFound)
	}

	return errs, nil
}

// FixItemsIntegrityCommand re-checks the given items and runs the selected
// remediation strategy for every finding. Results carries one outcome per
// attempted fix.
type FixItemsIntegrityCommand struct {
	ItemIDs    []int64
	Strategies FixStrategies
	Progress   ProgressFunc

	Results []FixOutcome
}

func (c *FixItemsIntegrityCommand) Name() string { return "FixItemsIntegrity" }

func (c *FixItemsIntegrityCommand) Execute(ctx context.Context, s Session, env *Env) error {
	for i, id := range c.ItemIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := s.GetItem(ctx, id)
		if err != nil {
			return fmt.Errorf("loading item %d: %w", id, err)
		}
		if item == nil {
			return NotFoundf("item %d", id)
		}
		errs, err := checkItem(ctx, s, env, item)
		if err != nil {
			return err
		}
		for _, kind := range errs {
			outcome, err := fixItem(ctx, s, env, item, kind, c.Strategies)
			if err != nil {
				return err
			}
			c.Results = append(c.Results, outcome)
		}
		if c.Progress != nil {
			c.Progress(i+1, len(c.ItemIDs), id)
		}
	}
	return nil
}

func fixItem(ctx context.Context, s Session, env *Env, item *model.Item, kind IntegrityErr, strategies FixStrategies) (FixOutcome, error) {
	out := FixOutcome{ItemID: item.ID, Err: kind}

	switch kind {
	case ErrFileNotFound:
		switch strategies.FileNotFound {
		case FileNotFoundTryFind:
			out.Strategy = "try find file"
			return fixByRelocating(ctx, s, env, item, out, matchByNameAndHash)
		case FileNotFoundDeleteRef:
			out.Strategy = "delete reference"
			if err := s.SetItemDataRef(ctx, item.ID, 0); err != nil {
				return out, fmt.Errorf("detaching data ref: %w", err)
			}
			item.DataRef = nil
			if _, err := appendHistory(ctx, s, env, item, model.OpUpdate, item.UserLogin); err != nil {
				return out, err
			}
			out.Fixed = true
			return out, nil
		}

	case ErrFileHashMismatch:
		switch strategies.HashMismatch {
		case HashMismatchTryFindFile:
			out.Strategy = "try find original file"
			return fixByRelocating(ctx, s, env, item, out, matchByHash)
		case HashMismatchUpdateHash:
			out.Strategy = "update hash"
			ref := item.DataRef
			abs := filepath.Join(env.BasePath, filepath.FromSlash(ref.URL))
			hash, size, err := env.FS.HashFile(abs)
			if err != nil {
				return out, &IOError{Stage: "hash", Src: abs, Err: err}
			}
			ref.Hash = hash
			ref.Size = size
			ref.DateHashed = env.Clock.Now()
			if err := s.UpdateDataRef(ctx, ref); err != nil {
				return out, fmt.Errorf("storing accepted hash: %w", err)
			}
			if _, err := appendHistory(ctx, s, env, item, model.OpUpdate, item.UserLogin); err != nil {
				return out, err
			}
			out.Fixed = true
			return out, nil
		}

	case ErrHistoryRecNotFound:
		rec := &model.HistoryRec{
			ItemID:    item.ID,
			Operation: model.OpCreate,
			UserLogin: item.UserLogin,
			ItemHash:  computeItemHash(item),
		}
		if item.DataRef != nil {
			rec.DataRefHash = item.DataRef.Hash
			rec.DataRefURL = item.DataRef.URL
		}
		switch strategies.HistoryRec {
		case HistoryRecTryProceed:
			out.Strategy = "reconstruct from current state"
			rec.CreatedAt = item.CreatedAt
		case HistoryRecRenew:
			out.Strategy = "renew baseline"
			rec.CreatedAt = env.Clock.Now()
		}
		if _, err := s.InsertHistoryRec(ctx, rec); err != nil {
			return out, fmt.Errorf("inserting baseline history record: %w", err)
		}
		out.Fixed = true
		return out, nil
	}

	out.Detail = "no strategy ran"
	return out, nil
}

type candidateMatch func(ref *model.DataRef, path *Path, hash string) bool

func matchByNameAndHash(ref *model.DataRef, path *Path, hash string) bool {
	return filepath.Base(path.String()) == filepath.Base(filepath.FromSlash(ref.URL)) && hash == ref.Hash
}

func matchByHash(ref *model.DataRef, path *Path, hash string) bool {
	return hash == ref.Hash
}

// fixByRelocating walks the repository looking for a file that matches the
// stored reference and repoints the reference's url at the first match.
func fixByRelocating(ctx context.Context, s Session, env *Env, item *model.Item, out FixOutcome, match candidateMatch) (FixOutcome, error) {
	ref := item.DataRef
	files, err := env.FS.FindFiles(env.BasePath, true)
	if err != nil {
		return out, &IOError{Stage: "walk", Src: env.BasePath, Err: err}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		hash, _, err := env.FS.HashFile(f.String())
		if err != nil {
			continue // unreadable candidate, keep searching
		}
		if !match(ref, f, hash) {
			continue
		}
		rel, err := RepoRelURL(env.BasePath, f.String())
		if err != nil {
			return out, fmt.Errorf("computing repository-relative path: %w", err)
		}
		if rel == ref.URL {
			continue // the broken location itself
		}
		ref.URL = rel
		ref.DateHashed = env.Clock.Now()
		if err := s.UpdateDataRef(ctx, ref); err != nil {
			return out, fmt.Errorf("repointing data ref: %w", err)
		}
		if _, err := appendHistory(ctx, s, env, item, model.OpUpdate, item.UserLogin); err != nil {
			return out, err
		}
		out.Fixed = true
		env.Logger.Info("reference repointed", "item", item.ID, "url", rel)
		return out, nil
	}

	out.Detail = "no matching file found in repository"
	return out, nil
}
