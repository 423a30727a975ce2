package tagr

import (
	"context"
	"fmt"
	"path/filepath"

	"tagr/internal/model"
)

// attachDataRef resolves an item's new file reference into a DataRef row and
// the matching on-disk state, following the attach rules in priority order:
//
//  1. no destination, source already inside the repository: store the
//     existing relative path as-is, no file movement;
//  2. no destination, source outside the repository: copy into the
//     repository root under the source's base filename;
//  3. explicit destination: copy (source outside) or move (source inside,
//     different path) there, creating intermediate directories;
//  4. source and destination are the same path: no filesystem operation,
//     only the catalog row ("untracked file becomes tracked").
//
// URL-type references never touch the filesystem. When the computed url is
// already tracked, the existing DataRef row is shared instead of violating
// url uniqueness.
func attachDataRef(ctx context.Context, s Session, env *Env, ref *model.DataRef, actingUser string) (*model.DataRef, error) {
	if ref.Type == model.RefURL {
		return attachURLRef(ctx, s, env, ref, actingUser)
	}

	src := filepath.Clean(ref.SrcAbsPath)
	if src == "" || !filepath.IsAbs(src) {
		return nil, Validityf("file reference needs an absolute source path, got %q", ref.SrcAbsPath)
	}

	var relURL string
	var dstAbs string
	inside := InsideRepo(env.BasePath, src)

	switch {
	case ref.DstRelPath == "" && inside:
		rel, err := RepoRelURL(env.BasePath, src)
		if err != nil {
			return nil, fmt.Errorf("computing repository-relative path: %w", err)
		}
		relURL = rel
		dstAbs = src

	case ref.DstRelPath == "":
		relURL = filepath.ToSlash(filepath.Base(src))
		dstAbs = filepath.Join(env.BasePath, filepath.Base(src))

	default:
		relURL = filepath.ToSlash(filepath.Clean(ref.DstRelPath))
		dstAbs = filepath.Join(env.BasePath, filepath.FromSlash(relURL))
	}

	if src != dstAbs {
		if inside {
			if err := env.FS.Move(src, dstAbs); err != nil {
				return nil, &IOError{Stage: "move", Src: src, Dst: dstAbs, Err: err}
			}
			env.Logger.Info("file moved", "src", src, "dst", dstAbs)
		} else {
			if err := env.FS.Copy(src, dstAbs); err != nil {
				return nil, &IOError{Stage: "copy", Src: src, Dst: dstAbs, Err: err}
			}
			env.Logger.Info("file copied", "src", src, "dst", dstAbs)
		}
	}

	// Share the existing row when this url is already tracked.
	existing, err := s.GetDataRefByURL(ctx, relURL)
	if err != nil {
		return nil, fmt.Errorf("looking up data ref by url: %w", err)
	}
	if existing != nil {
		if err := refreshHash(ctx, s, env, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	hash, size, err := env.FS.HashFile(dstAbs)
	if err != nil {
		return nil, &IOError{Stage: "hash", Src: dstAbs, Err: err}
	}

	now := env.Clock.Now()
	dr := &model.DataRef{
		URL:        relURL,
		Type:       model.RefFile,
		Hash:       hash,
		DateHashed: now,
		Size:       size,
		CreatedAt:  now,
		UserLogin:  actingUser,
	}
	id, err := s.InsertDataRef(ctx, dr)
	if err != nil {
		return nil, fmt.Errorf("inserting data ref: %w", err)
	}
	dr.ID = id
	return dr, nil
}

func attachURLRef(ctx context.Context, s Session, env *Env, ref *model.DataRef, actingUser string) (*model.DataRef, error) {
	if ref.URL == "" {
		return nil, Validityf("url reference needs a non-empty url")
	}
	existing, err := s.GetDataRefByURL(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("looking up data ref by url: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	dr := &model.DataRef{
		URL:       ref.URL,
		Type:      model.RefURL,
		CreatedAt: env.Clock.Now(),
		UserLogin: actingUser,
	}
	id, err := s.InsertDataRef(ctx, dr)
	if err != nil {
		return nil, fmt.Errorf("inserting data ref: %w", err)
	}
	dr.ID = id
	return dr, nil
}

// moveDataRef relocates an existing file reference to a new repository-
// relative destination and updates the catalog row.
func moveDataRef(ctx context.Context, s Session, env *Env, dr *model.DataRef, dstRelPath string) error {
	if dr.Type != model.RefFile {
		return Validityf("only file references can be moved")
	}
	newURL := filepath.ToSlash(filepath.Clean(dstRelPath))
	if newURL == dr.URL {
		return nil
	}

	src := filepath.Join(env.BasePath, filepath.FromSlash(dr.URL))
	dst := filepath.Join(env.BasePath, filepath.FromSlash(newURL))
	if err := env.FS.Move(src, dst); err != nil {
		return &IOError{Stage: "move", Src: src, Dst: dst, Err: err}
	}
	env.Logger.Info("file moved", "src", src, "dst", dst)

	dr.URL = newURL
	if err := s.UpdateDataRef(ctx, dr); err != nil {
		return fmt.Errorf("updating data ref url: %w", err)
	}
	return nil
}

// refreshHash recomputes the content hash when the on-disk file has been
// modified after date_hashed. The new hash and a fresh timestamp are stored
// together within the owning command's transaction.
func refreshHash(ctx context.Context, s Session, env *Env, dr *model.DataRef) error {
	if dr.Type != model.RefFile {
		return nil
	}
	abs := filepath.Join(env.BasePath, filepath.FromSlash(dr.URL))
	info, err := env.FS.Stat(abs)
	if err != nil {
		return &IOError{Stage: "stat", Src: abs, Err: err}
	}
	if !dr.DateHashed.IsZero() && !info.ModTime().After(dr.DateHashed) {
		return nil
	}

	hash, size, err := env.FS.HashFile(abs)
	if err != nil {
		return &IOError{Stage: "hash", Src: abs, Err: err}
	}
	dr.Hash = hash
	dr.Size = size
	dr.DateHashed = env.Clock.Now()
	if err := s.UpdateDataRef(ctx, dr); err != nil {
		return fmt.Errorf("storing refreshed hash: %w", err)
	}
	return nil
}
