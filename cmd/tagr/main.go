package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"tagr/internal/app"
	"tagr/internal/config"
	"tagr/internal/database"
	"tagr/internal/model"
	"tagr/internal/tagr"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassword prompts for a password without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// parseIDs converts string args to item ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printItem(it *model.Item) {
	state := ""
	if !it.Alive {
		state = "  [deleted]"
	}
	fmt.Printf("#%d  %s%s\n", it.ID, it.Title, state)
	if it.Notes != "" {
		fmt.Printf("    notes: %s\n", it.Notes)
	}
	fmt.Printf("    owner: %s\n", it.UserLogin)
	for _, l := range it.Tags {
		fmt.Printf("    tag:   %s (%s)\n", l.TagName, l.UserLogin)
	}
	for _, l := range it.Fields {
		fmt.Printf("    field: %s=%s (%s)\n", l.FieldName, l.Value, l.UserLogin)
	}
	if it.DataRef != nil {
		fmt.Printf("    %s:  %s\n", strings.ToLower(string(it.DataRef.Type)), it.DataRef.URL)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tagr",
	Short: "Tagged file catalog",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository in the base directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		catalog, err := database.NewCatalogFromConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("creating catalog: %w", err)
		}
		defer catalog.Close()
		if err := catalog.MigrateUp(); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}

		fmt.Printf("Repository initialized at %s\n", cfg.BaseDir)
		fmt.Printf("Configuration written to %s\n", defaults["config_path"])
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Encryptor().IsConfigured() {
			return fmt.Errorf("encryption keys already exist")
		}

		passphrase, err := readPassword("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassword("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.Encryptor().Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// user commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add LOGIN",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword("Password: ")
		if err != nil {
			return err
		}

		if err := a.AddUser(cmd.Context(), args[0], password); err != nil {
			return err
		}
		fmt.Printf("User %s created\n", args[0])
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd LOGIN",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		password, err := readPassword("New password: ")
		if err != nil {
			return err
		}

		if err := a.ChangePassword(cmd.Context(), args[0], password); err != nil {
			return err
		}
		fmt.Printf("Password changed for %s\n", args[0])
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add [PATH]",
	Short: "Create an item, optionally attaching a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		notes, _ := cmd.Flags().GetString("notes")
		user, _ := cmd.Flags().GetString("user")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		fieldArgs, _ := cmd.Flags().GetStringSlice("field")
		dst, _ := cmd.Flags().GetString("dst")
		url, _ := cmd.Flags().GetString("url")

		fields := make(map[string]string, len(fieldArgs))
		for _, f := range fieldArgs {
			name, value, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("field %q is not in NAME=VALUE form", f)
			}
			fields[name] = value
		}

		params := app.SaveItemParams{
			Title:      title,
			Notes:      notes,
			UserLogin:  user,
			Tags:       tags,
			Fields:     fields,
			DstRelPath: dst,
			URL:        url,
		}
		if len(args) > 0 {
			params.SrcPath = args[0]
			if title == "" {
				params.Title = args[0]
			}
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.SaveItem(cmd.Context(), params)
		if err != nil {
			return err
		}
		fmt.Printf("Created item #%d\n", id)
		return nil
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Display an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		it, err := a.GetItem(cmd.Context(), ids[0])
		if err != nil {
			return err
		}
		printItem(it)
		return nil
	},
}

// tag / untag commands
var tagCmd = &cobra.Command{
	Use:   "tag ID TAG...",
	Short: "Attach tags to an item",
	Args:  cobra.MinimumNArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return retag(cmd, args, true) },
}

var untagCmd = &cobra.Command{
	Use:   "untag ID TAG...",
	Short: "Detach tags from an item",
	Args:  cobra.MinimumNArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return retag(cmd, args, false) },
}

func retag(cmd *cobra.Command, args []string, attach bool) error {
	user, _ := cmd.Flags().GetString("user")
	ids, err := parseIDs(args[:1])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	it, err := a.GetItem(cmd.Context(), ids[0])
	if err != nil {
		return err
	}

	if attach {
		for _, name := range args[1:] {
			if !it.HasTag(name) {
				it.Tags = append(it.Tags, model.ItemTag{TagName: name, UserLogin: user})
			}
		}
	} else {
		drop := make(map[string]bool, len(args)-1)
		for _, name := range args[1:] {
			drop[name] = true
		}
		kept := it.Tags[:0]
		for _, l := range it.Tags {
			if !(drop[l.TagName] && l.UserLogin == user) {
				kept = append(kept, l)
			}
		}
		it.Tags = kept
	}

	return a.UpdateItem(cmd.Context(), it, user)
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		deleteFile, _ := cmd.Flags().GetBool("delete-file")

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteItem(cmd.Context(), ids[0], user, deleteFile); err != nil {
			return err
		}
		fmt.Printf("Deleted item #%d\n", ids[0])
		return nil
	},
}

// find command
var findCmd = &cobra.Command{
	Use:   "find QUERY",
	Short: "Find items matching a query expression",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Query(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No items found.")
			return nil
		}
		for i := range items {
			printItem(&items[i])
		}
		return nil
	},
}

// check / fix commands
var checkCmd = &cobra.Command{
	Use:   "check [ID...]",
	Short: "Check item integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.CheckIntegrity(cmd.Context(), ids, nil)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No integrity errors found.")
			return nil
		}
		for _, r := range results {
			for _, e := range r.Errors {
				fmt.Printf("#%d  %s\n", r.ItemID, e)
			}
		}
		return nil
	},
}

var fixCmd = &cobra.Command{
	Use:   "fix [ID...]",
	Short: "Repair item integrity errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		dropRefs, _ := cmd.Flags().GetBool("drop-refs")
		rehash, _ := cmd.Flags().GetBool("rehash")
		renew, _ := cmd.Flags().GetBool("renew-history")

		// Relocation is the default for both file errors.
		strategies := tagr.FixStrategies{
			FileNotFound: tagr.FileNotFoundTryFind,
			HashMismatch: tagr.HashMismatchTryFindFile,
			HistoryRec:   tagr.HistoryRecTryProceed,
		}
		if dropRefs {
			strategies.FileNotFound = tagr.FileNotFoundDeleteRef
		}
		if rehash {
			strategies.HashMismatch = tagr.HashMismatchUpdateHash
		}
		if renew {
			strategies.HistoryRec = tagr.HistoryRecRenew
		}

		ids, err := parseIDs(args)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		outcomes, err := a.FixIntegrity(cmd.Context(), ids, strategies, nil)
		if err != nil {
			return err
		}

		for _, o := range outcomes {
			status := "fixed"
			if !o.Fixed {
				status = "not fixed"
			}
			fmt.Printf("#%d  %s  %s", o.ItemID, o.Err, status)
			if o.Detail != "" {
				fmt.Printf("  (%s)", o.Detail)
			}
			fmt.Println()
		}
		return nil
	},
}

// export / import / archives commands
var exportCmd = &cobra.Command{
	Use:   "export VAULT ARCHIVE ID...",
	Short: "Export items to an archive in a vault",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		ids, err := parseIDs(args[2:])
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Export(cmd.Context(), args[0], args[1], ids, user); err != nil {
			return err
		}
		fmt.Printf("Exported %d item(s) to %s/%s\n", len(ids), args[0], args[1])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import VAULT ARCHIVE",
	Short: "Import items from an archive in a vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		encrypted, _ := cmd.Flags().GetBool("encrypted")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if encrypted {
			passphrase, err = readPassword("Passphrase for private key: ")
			if err != nil {
				return err
			}
		}

		ids, err := a.Import(cmd.Context(), args[0], args[1], passphrase, user)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d item(s)\n", len(ids))
		return nil
	},
}

var archivesCmd = &cobra.Command{
	Use:   "archives VAULT",
	Short: "List archives stored in a vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListArchives(args[0])
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No archives.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userPasswdCmd)

	addCmd.Flags().String("title", "", "Item title (defaults to the attached path)")
	addCmd.Flags().String("notes", "", "Item notes")
	addCmd.Flags().String("user", "", "Owner login")
	addCmd.Flags().StringSlice("tag", nil, "Tag to attach (repeatable)")
	addCmd.Flags().StringSlice("field", nil, "Field NAME=VALUE to attach (repeatable)")
	addCmd.Flags().String("dst", "", "Repository-relative destination for the attached file")
	addCmd.Flags().String("url", "", "Attach an external url instead of a file")

	tagCmd.Flags().String("user", "", "Acting user login")
	untagCmd.Flags().String("user", "", "Acting user login")

	rmCmd.Flags().String("user", "", "Acting user login")
	rmCmd.Flags().Bool("delete-file", false, "Also delete the managed file when unreferenced")

	fixCmd.Flags().Bool("drop-refs", false, "Detach references to missing files")
	fixCmd.Flags().Bool("rehash", false, "Accept changed files and store their new hash")
	fixCmd.Flags().Bool("renew-history", false, "Rebuild missing history records at the current time")

	exportCmd.Flags().String("user", "", "Exporting user login")
	importCmd.Flags().String("user", "", "Attribute imported items to this login")
	importCmd.Flags().Bool("encrypted", false, "Archive is encrypted; prompt for passphrase")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(archivesCmd)
}
