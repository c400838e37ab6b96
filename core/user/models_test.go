package user

import (
	"testing"
	"time"

	"github.com/volatiletech/null/v8"
)

func TestRequiresActivation(t *testing.T) {
	tests := []struct {
		name string
		usr  User
		want bool
	}{
		{"faculty unverified", User{Role: RoleFaculty}, true},
		{"student unverified", User{Role: RoleStudent}, true},
		{"faculty verified", User{Role: RoleFaculty, Verified: true}, false},
		{"parent", User{Role: RoleParent}, false},
		{"admin", User{Role: RoleAdmin}, false},
		{"super admin", User{Role: RoleSuperAdmin}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usr.RequiresActivation(); got != tt.want {
				t.Errorf("RequiresActivation() = %v; expected %v", got, tt.want)
			}
		})
	}
}

func TestActivationStage(t *testing.T) {
	now := null.TimeFrom(time.Now())
	tests := []struct {
		name string
		usr  User
		want Stage
	}{
		{"unapproved", User{Role: RoleFaculty}, StageAwaitingAdminApproval},
		{"approved, nothing issued", User{Role: RoleFaculty, IsApproved: true}, StageAwaitingAdminApproval},
		{
			// issuance without notification is not surfaced to the account holder
			"approved and issued, not notified",
			User{Role: RoleFaculty, IsApproved: true, IssuedID: null.StringFrom("EMP-1")},
			StageAwaitingAdminApproval,
		},
		{
			"notified",
			User{Role: RoleFaculty, IsApproved: true, IssuedID: null.StringFrom("EMP-1"), NotifiedAt: now},
			StageAwaitingEmployeeIDInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.usr.ActivationStage(); got != tt.want {
				t.Errorf("ActivationStage() = %v; expected %v", got, tt.want)
			}
		})
	}
}

func TestRecordVerifiedID(t *testing.T) {
	tests := []struct {
		name string
		usr  User
		get  func(u User) string
	}{
		{"student", User{Role: RoleStudent, StudentInfo: &StudentInfo{Department: "CS"}}, func(u User) string { return u.StudentInfo.StudentID }},
		{"faculty", User{Role: RoleFaculty}, func(u User) string { return u.FacultyInfo.EmployeeID }},
		{"hod", User{Role: RoleHOD}, func(u User) string { return u.HODInfo.EmployeeID }},
		{"librarian", User{Role: RoleLibrarian}, func(u User) string { return u.StaffInfo.EmployeeID }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.usr.recordVerifiedID("ID-001")
			if got := tt.get(tt.usr); got != "ID-001" {
				t.Errorf("recorded ID = %q", got)
			}
		})
	}
}
