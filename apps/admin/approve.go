package main

import (
	"context"
	"fmt"

	"github.com/nuruedu/nuru/core/user"
)

// approve confirms admin approval for a held account from the command line,
// e.g. when bootstrapping the first principal.
func (cli *commandLine) approve(login string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UserIDOrEmail: login})
	if err != nil {
		return err
	}
	if usr.IsApproved {
		fmt.Printf("%s is already approved\n", usr.UserID)
		return nil
	}
	if _, err := cli.usrRepo.ApproveUser(ctx, usr.ID, "cli"); err != nil {
		return err
	}
	fmt.Printf("%s approved\n", usr.UserID)
	return nil
}
