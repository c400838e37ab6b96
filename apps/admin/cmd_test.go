package main

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/nuruedu/nuru/core/user"
	inmemdb "github.com/nuruedu/nuru/storage/database/inmem"
	testutil "github.com/nuruedu/nuru/tests"
)

var usrRepo user.Repository

func setup(t *testing.T) *commandLine {
	t.Helper()
	usrRepo = inmemdb.NewUserRepository(inmemdb.NewDB())
	return &commandLine{usrRepo: usrRepo}
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
	extra   interface{}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	origMigrateFunc := migrateFunc
	t.Cleanup(func() { migrateFunc = origMigrateFunc })

	var called bool
	migrateFunc = func(db *sql.DB) error {
		called = true
		return nil
	}

	if err := cli.run([]string{"admin", "migrate"}); err != nil {
		t.Errorf("cli.run() unexpected error = %v", err)
	}
	if !called {
		t.Error("migrate was not invoked")
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	existing := testutil.CreateUser(t, usrRepo, "User", "Awe", "awe@nuru.edu", "lol", user.RoleParent, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"adduser", "-email", "new@nuru.edu"}, wantErr: errHelp},
		{name: "create admin", args: []string{"adduser", "-email", "new@nuru.edu", "-first", "New", "-last", "Admin", "-admin"}, extra: extra{pwd: "lol"}},
		{name: "update existing", args: []string{"adduser", "-email", existing.Email, "-first", "Renamed"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	admin, err := usrRepo.GetUser(context.Background(), user.GetFilter{Email: "new@nuru.edu"})
	if err != nil {
		t.Fatalf("GetUser() failed, %v", err)
	}
	if !admin.IsAdmin() || !admin.Verified || !admin.IsActive {
		t.Errorf("failed! admin = %+v", admin)
	}
	renamed, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: existing.ID})
	if err != nil {
		t.Fatalf("GetUser() failed, %v", err)
	}
	if renamed.FirstName != "Renamed" {
		t.Errorf("failed! FirstName = %q", renamed.FirstName)
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "Awe", "awe@nuru.edu", "mdr", user.RoleParent, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "login but no password", args: []string{"resetpassword", "-login", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-login", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with user ID", args: []string{"resetpassword", "-login", usr.UserID}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-login", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_approve(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Jane", "Doe", "jane@nuru.edu", "", user.RoleFaculty, true)

	tests := []cliTest{
		{name: "no args", args: []string{"approve"}, wantErr: errHelp},
		{name: "user not found", args: []string{"approve", "-login", "lol"}, wantErr: user.ErrNotFound},
		{name: "approve by email", args: []string{"approve", "-login", usr.Email}},
		{name: "re-approval is a no-op", args: []string{"approve", "-login", usr.UserID}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if !refreshedUsr.IsApproved {
					t.Error("failed! IsApproved = false")
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
