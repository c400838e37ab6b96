package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(email, firstName, lastName, pwd string, isAdmin bool) error {
	var usr user.User
	var err error
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)
	now := time.Now().UTC()

	if usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email}); err != nil {
		if err != user.ErrNotFound {
			return err
		}
		usr = user.User{
			ID:        uuid.NewString(),
			UserID:    "ADM-" + uuid.NewString()[:8],
			Email:     email,
			CreatedAt: now,
		}
	}
	if firstName != "" {
		usr.FirstName = core.CleanString(firstName)
	}
	if lastName != "" {
		usr.LastName = core.CleanString(lastName)
	}
	if isAdmin {
		usr.Role = user.RoleAdmin
		usr.Verified = true
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}
	return nil
}
