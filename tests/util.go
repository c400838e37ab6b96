package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nuruedu/nuru/core/user"
)

var seq int

// CreateUser persists a User directly through the repository, bypassing the
// service, so tests can set up accounts in arbitrary states.
func CreateUser(t *testing.T, repo user.Repository, firstName, lastName, email, pwd, role string, isActive bool, createdAt ...time.Time) user.User {
	t.Helper()

	now := time.Now().UTC()
	if len(createdAt) > 0 {
		now = createdAt[0].UTC()
	}
	seq++

	prefix := strings.ToUpper(role)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	usr := user.User{
		ID:        uuid.NewString(),
		UserID:    fmt.Sprintf("%s-%d-%04d", prefix, now.Year(), seq),
		FirstName: firstName,
		LastName:  lastName,
		Email:     strings.ToLower(email),
		Role:      role,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch role {
	case user.RoleStudent:
		usr.StudentInfo = &user.StudentInfo{Department: "CS", ClassYear: "2027", Division: "A", RollNo: seq, Semester: 1}
	case user.RoleFaculty:
		usr.FacultyInfo = &user.FacultyInfo{Department: "CS"}
	case user.RoleHOD:
		usr.HODInfo = &user.HODInfo{Department: "CS"}
	case user.RoleAdmin, user.RoleSuperAdmin, user.RoleParent:
		// no profile needed
	default:
		usr.StaffInfo = &user.StaffInfo{Department: "Administration"}
	}
	if !user.IsHoldRole(role) {
		usr.Verified = true
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("SetPassword(): %v", err)
		}
	}

	created, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser(): %v", err)
	}
	return created
}

// Approve marks the account admin-approved.
func Approve(t *testing.T, repo user.Repository, usr user.User, by string) user.User {
	t.Helper()
	approved, err := repo.ApproveUser(context.Background(), usr.ID, by)
	if err != nil {
		t.Fatalf("ApproveUser(): %v", err)
	}
	return approved
}

// IssueID records an issued activation ID on the account.
func IssueID(t *testing.T, repo user.Repository, usr user.User, id string) user.User {
	t.Helper()
	issued, err := repo.IssueActivationID(context.Background(), usr.ID, id, time.Now().UTC())
	if err != nil {
		t.Fatalf("IssueActivationID(): %v", err)
	}
	return issued
}

// Notify marks the issued-ID email as sent.
func Notify(t *testing.T, repo user.Repository, usr user.User) user.User {
	t.Helper()
	notified, err := repo.SetNotified(context.Background(), usr.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("SetNotified(): %v", err)
	}
	return notified
}
