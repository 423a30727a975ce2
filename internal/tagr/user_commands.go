package tagr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"tagr/internal/model"
)

// HashPassword returns the stored form of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// SaveNewUserCommand registers a new account.
type SaveNewUserCommand struct {
	User *model.User
}

func (c *SaveNewUserCommand) Name() string { return "SaveNewUser" }

func (c *SaveNewUserCommand) Execute(ctx context.Context, s Session, env *Env) error {
	u := c.User
	if u.Login == "" {
		return Validityf("user login must not be empty")
	}
	existing, err := s.GetUser(ctx, u.Login)
	if err != nil {
		return fmt.Errorf("checking for existing user: %w", err)
	}
	if existing != nil {
		return Conflictf("user %q already exists", u.Login)
	}
	if u.Group == "" {
		u.Group = model.GroupUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = env.Clock.Now()
	}
	if err := s.InsertUser(ctx, u); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	env.Logger.Info("user created", "login", u.Login)
	return nil
}

// ChangeUserPasswordCommand replaces the stored password hash of an account.
type ChangeUserPasswordCommand struct {
	Login           string
	NewPasswordHash string
}

func (c *ChangeUserPasswordCommand) Name() string { return "ChangeUserPassword" }

func (c *ChangeUserPasswordCommand) Execute(ctx context.Context, s Session, env *Env) error {
	if err := requireUser(ctx, s, c.Login); err != nil {
		return err
	}
	if c.NewPasswordHash == "" {
		return Validityf("new password hash must not be empty")
	}
	if err := s.UpdateUserPassword(ctx, c.Login, c.NewPasswordHash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	env.Logger.Info("password changed", "login", c.Login)
	return nil
}
