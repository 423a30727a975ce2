// Package app is the application layer between the CLI and the repository
// core. It constructs all dependencies from config and exposes high-level
// operations that accept raw strings from the command line.
package app

import (
	"context"
	"fmt"
	"os"

	"tagr/internal/archive"
	"tagr/internal/config"
	"tagr/internal/database"
	"tagr/internal/encryption"
	"tagr/internal/fs"
	"tagr/internal/model"
	"tagr/internal/query"
	"tagr/internal/tagr"
	"tagr/internal/vault"
)

// App wires the catalog, filesystem manager, encryptor and vaults into a
// repository and exposes the operations the CLI runs. The caller must call
// Close when done.
type App struct {
	cfg       *config.Config
	catalog   *database.SQLiteCatalog
	repo      *tagr.Repo
	fsmgr     tagr.FilesystemManager
	encryptor tagr.Encryptor
	vaults    map[string]tagr.Vault
	logFile   *os.File
}

// New creates a fully wired App from the given config.
func New(cfg *config.Config) (*App, error) {
	fsmgr := fs.NewOSFilesystemManager()

	catalog, err := database.NewCatalogFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	if err := catalog.CheckMigrations(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("catalog schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	vaults := make(map[string]tagr.Vault, len(cfg.Vaults))
	for _, vc := range cfg.Vaults {
		v, err := vault.NewVaultFromConfig(vc)
		if err != nil {
			catalog.Close()
			return nil, fmt.Errorf("creating vault %q: %w", vc.Name, err)
		}
		vaults[vc.Name] = v
	}

	idgen := tagr.UUIDGenerator{}
	sessionID := idgen.New()
	logger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		catalog.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	repo := tagr.NewRepo(catalog, fsmgr, cfg.BaseDir, &slogAdapter{l: logger}, tagr.RealClock{}, idgen)

	return &App{
		cfg:       cfg,
		catalog:   catalog,
		repo:      repo,
		fsmgr:     fsmgr,
		encryptor: enc,
		vaults:    vaults,
		logFile:   logFile,
	}, nil
}

// Repo exposes the underlying repository.
func (a *App) Repo() *tagr.Repo { return a.repo }

// Encryptor exposes the configured encryptor for passphrase prompts.
func (a *App) Encryptor() tagr.Encryptor { return a.encryptor }

// Vault looks up a configured vault by name.
func (a *App) Vault(name string) (tagr.Vault, error) {
	v, ok := a.vaults[name]
	if !ok {
		return nil, fmt.Errorf("no vault configured with name %q", name)
	}
	return v, nil
}

// Close releases the repository and the log file.
func (a *App) Close() error {
	err := a.repo.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}

// run executes a single command in its own unit of work.
func (a *App) run(ctx context.Context, cmd tagr.Command) error {
	uow, err := a.repo.CreateUnitOfWork(ctx)
	if err != nil {
		return err
	}
	if err := uow.Execute(ctx, cmd); err != nil {
		uow.Close()
		return err
	}
	return uow.Close()
}

// SaveItemParams carries the raw inputs for creating an item.
type SaveItemParams struct {
	Title     string
	Notes     string
	UserLogin string
	Tags      []string
	Fields    map[string]string

	// SrcPath attaches a file; DstRelPath optionally places it at a
	// specific repository-relative path. URL attaches an external link
	// instead of a file.
	SrcPath    string
	DstRelPath string
	URL        string
}

// SaveItem creates a new item and returns its id.
func (a *App) SaveItem(ctx context.Context, p SaveItemParams) (int64, error) {
	item := &model.Item{
		Title:     p.Title,
		Notes:     p.Notes,
		UserLogin: p.UserLogin,
	}
	for _, tag := range p.Tags {
		item.Tags = append(item.Tags, model.ItemTag{TagName: tag, UserLogin: p.UserLogin})
	}
	for name, value := range p.Fields {
		item.Fields = append(item.Fields, model.ItemField{
			FieldName: name, Value: value, UserLogin: p.UserLogin,
		})
	}

	switch {
	case p.SrcPath != "":
		resolved, err := a.fsmgr.Resolve(p.SrcPath)
		if err != nil {
			return 0, fmt.Errorf("resolving path: %w", err)
		}
		if resolved.IsDir() {
			return 0, fmt.Errorf("cannot attach a directory: %s", resolved)
		}
		item.DataRef = &model.DataRef{
			Type:       model.RefFile,
			SrcAbsPath: resolved.String(),
			DstRelPath: p.DstRelPath,
		}
	case p.URL != "":
		item.DataRef = &model.DataRef{Type: model.RefURL, URL: p.URL}
	}

	cmd := &tagr.SaveNewItemCommand{Item: item}
	if err := a.run(ctx, cmd); err != nil {
		return 0, err
	}
	return cmd.ItemID, nil
}

// GetItem fetches an item by id, whether alive or deleted.
func (a *App) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	cmd := &tagr.GetExpungedItemCommand{ItemID: id}
	if err := a.run(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Item, nil
}

// UpdateItem saves the desired state of an existing item on behalf of
// actingUser.
func (a *App) UpdateItem(ctx context.Context, item *model.Item, actingUser string) error {
	return a.run(ctx, &tagr.UpdateExistingItemCommand{Item: item, UserLogin: actingUser})
}

// DeleteItem soft-deletes an item. When deleteFile is true and no other item
// references the same file, the managed file is removed from disk as well.
func (a *App) DeleteItem(ctx context.Context, id int64, actingUser string, deleteFile bool) error {
	return a.run(ctx, &tagr.DeleteItemCommand{
		ItemID:             id,
		UserLogin:          actingUser,
		DeletePhysicalFile: deleteFile,
	})
}

// Query parses a query expression and returns the matching alive items.
func (a *App) Query(ctx context.Context, text string) ([]model.Item, error) {
	tree, err := query.Parse(text)
	if err != nil {
		return nil, err
	}
	cmd := &tagr.QueryItemsByParseTreeCommand{Tree: tree}
	if err := a.run(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Items, nil
}

// AddUser creates a user with the given login and password.
func (a *App) AddUser(ctx context.Context, login, password string) error {
	return a.run(ctx, &tagr.SaveNewUserCommand{
		User: &model.User{
			Login:        login,
			PasswordHash: tagr.HashPassword(password),
		},
	})
}

// ChangePassword replaces a user's password.
func (a *App) ChangePassword(ctx context.Context, login, newPassword string) error {
	return a.run(ctx, &tagr.ChangeUserPasswordCommand{
		Login:           login,
		NewPasswordHash: tagr.HashPassword(newPassword),
	})
}

// CheckIntegrity verifies the given items (all alive items when ids is
// empty) and returns per-item findings.
func (a *App) CheckIntegrity(ctx context.Context, ids []int64, progress tagr.ProgressFunc) ([]tagr.CheckResult, error) {
	ids, err := a.resolveItemIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	cmd := &tagr.CheckItemsIntegrityCommand{ItemIDs: ids, Progress: progress}
	if err := a.run(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Results, nil
}

// FixIntegrity attempts to repair integrity errors on the given items (all
// alive items when ids is empty) using the provided strategies.
func (a *App) FixIntegrity(ctx context.Context, ids []int64, strategies tagr.FixStrategies, progress tagr.ProgressFunc) ([]tagr.FixOutcome, error) {
	ids, err := a.resolveItemIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	cmd := &tagr.FixItemsIntegrityCommand{ItemIDs: ids, Strategies: strategies, Progress: progress}
	if err := a.run(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd.Results, nil
}

// resolveItemIDs expands an empty id list to all alive items.
func (a *App) resolveItemIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	cmd := &tagr.QueryItemsByParseTreeCommand{Tree: query.All{}}
	if err := a.run(ctx, cmd); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(cmd.Items))
	for i := range cmd.Items {
		out = append(out, cmd.Items[i].ID)
	}
	return out, nil
}

// Export writes the items matching ids into an archive stored in the named
// vault. The archive is encrypted when the encryptor is configured.
func (a *App) Export(ctx context.Context, vaultName, archiveName string, ids []int64, exportedBy string) error {
	v, err := a.Vault(vaultName)
	if err != nil {
		return err
	}

	items := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		it, err := a.GetItem(ctx, id)
		if err != nil {
			return err
		}
		items = append(items, *it)
	}

	exp := archive.NewExporter(a.fsmgr, a.cfg.BaseDir, tagr.RealClock{})
	var enc tagr.Encryptor
	if a.encryptor.IsConfigured() {
		enc = a.encryptor
	}
	return exp.ExportToVault(ctx, v, archiveName, items, exportedBy, enc)
}

// Import fetches an archive from the named vault and replays its items into
// the repository. passphrase unlocks the private key for encrypted archives;
// it may be empty when the archive is not encrypted. Returns the created
// item ids.
func (a *App) Import(ctx context.Context, vaultName, archiveName, passphrase, ownerOverride string) ([]int64, error) {
	v, err := a.Vault(vaultName)
	if err != nil {
		return nil, err
	}

	var dc tagr.DecryptionContext
	if passphrase != "" {
		dc, err = a.encryptor.Unlock(passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
	}

	imp := archive.NewImporter(a.repo)
	return imp.ImportFromVault(ctx, v, archiveName, dc, ownerOverride)
}

// ListArchives lists the archives stored in the named vault.
func (a *App) ListArchives(vaultName string) ([]string, error) {
	v, err := a.Vault(vaultName)
	if err != nil {
		return nil, err
	}
	return v.ListArchives()
}
