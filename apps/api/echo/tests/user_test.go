package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/nuruedu/nuru/core/user"
	testutil "github.com/nuruedu/nuru/tests"
)

func Test_userApi_userQuery(t *testing.T) {
	resetDB(t)

	path := func(search, ordering string, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/api/users?" + v.Encode()
	}

	now := time.Now()
	t1 := now.Add(1 * time.Hour)
	t2 := now.Add(2 * time.Hour)

	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)
	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true, t1)
	librarian := testutil.CreateUser(t, usrRepo, "Libby", "Books", "libby@nuru.edu", "", user.RoleLibrarian, true, t2)

	adminToken := getToken(t, admin)
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "Auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/users", token: getToken(t, parent),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/api/users", token: adminToken, wantData: marchallList(t, librarian, admin, parent)},
		{name: "search (unknown)", path: path("lol", ""), token: adminToken, wantData: empty},
		{name: "search=papa", path: path("papa", ""), token: adminToken, wantData: marchallList(t, parent)},
		{name: "role (unknown)", path: path("", "", "lol"), token: adminToken, wantData: empty},
		{name: "role=admin", path: path("", "", user.RoleAdmin), token: adminToken, wantData: marchallList(t, admin)},
		{
			name: "role=admin,librarian", path: path("", "", user.RoleAdmin, user.RoleLibrarian),
			token: adminToken, wantData: marchallList(t, librarian, admin),
		},
		{name: "order by created_at", path: path("", "created_at"), token: adminToken, wantData: marchallList(t, parent, admin, librarian)},
		{name: "order by -created_at", path: path("", "-created_at"), token: adminToken, wantData: marchallList(t, librarian, admin, parent)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userRetrieve(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)
	other := testutil.CreateUser(t, usrRepo, "Otto", "Other", "otto@nuru.edu", "", user.RoleParent, true)

	tests := []httpTest{
		{name: "Auth required", path: "/api/users/" + parent.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "own account", path: "/api/users/" + parent.ID, token: getToken(t, parent), wantData: marchallObj(t, parent)},
		{
			name: "someone else's account is not found", path: "/api/users/" + other.ID, token: getToken(t, parent),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin can retrieve anyone", path: "/api/users/" + other.ID, token: getToken(t, admin), wantData: marchallObj(t, other)},
		{
			name: "unknown ID", path: "/api/users/lol", token: getToken(t, admin),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userUpdate(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)

	bPtr := func(b bool) *bool { return &b }

	tests := []httpTest{
		{
			name: "non-admin cannot deactivate", path: "/api/users/" + parent.ID, token: getToken(t, parent),
			body:     marchallObj(t, user.UpdateUser{IsActive: bPtr(false)}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "non-admin cannot change email", path: "/api/users/" + parent.ID, token: getToken(t, parent),
			body:     marchallObj(t, user.UpdateUser{Email: "new@nuru.edu"}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "own name", path: "/api/users/" + parent.ID, token: getToken(t, parent),
			body: marchallObj(t, user.UpdateUser{FirstName: "Mama"}), wantCode: http.StatusOK, extra: "Mama",
		},
		{
			name: "admin deactivates", path: "/api/users/" + parent.ID, token: getToken(t, admin),
			body: marchallObj(t, user.UpdateUser{IsActive: bPtr(false)}), wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData user.User
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if want, ok := tt.extra.(string); ok && respData.FirstName != want {
					t.Errorf("failed! FirstName = %q; want %q", respData.FirstName, want)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userDestroy(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)
	other := testutil.CreateUser(t, usrRepo, "Otto", "Other", "otto@nuru.edu", "", user.RoleParent, true)

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{
			name: "Admin required", path: "/api/users/" + parent.ID, token: getToken(t, parent),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "self-deletion forbidden", path: "/api/users/" + admin.ID, token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "admin deletes", path: "/api/users/" + parent.ID, token: adminToken, wantCode: http.StatusNoContent},
		{
			name: "self-deletion forbidden in bulk", path: fmt.Sprintf("/api/users?id=%s&id=%s", admin.ID, other.ID), token: adminToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "bulk delete", path: "/api/users?id=" + other.ID, token: adminToken, wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		tt.method = http.MethodDelete

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusNoContent {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	// only the admin is left standing
	req, rec := newAuthRequest(http.MethodGet, "/api/users", adminToken)
	app.ServeHTTP(rec, req)
	var users []user.User
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if len(users) != 1 || users[0].ID != admin.ID {
		t.Errorf("failed! users = %v; want only %s", users, admin.UserID)
	}
}

func Test_userApi_queryRoles(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, parent),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "all roles", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, user.Roles)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/api/users/roles"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_userCreate(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Alice", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)

	body := marchallObj(t, user.NewUser{
		FirstName:       "Steve",
		LastName:        "Stud",
		Email:           "steve@nuru.edu",
		Role:            user.RoleStudent,
		Password:        "G0od#Pass24",
		PasswordConfirm: "G0od#Pass24",
		Department:      "CS",
		ClassYear:       "2027",
		Division:        "A",
		RollNo:          7,
	})

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, parent), body: body,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "student created", token: getToken(t, admin), body: body, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/users"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				var respData user.User
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Fatalf("json.Unmarshal() failed! err %v", err)
				}
				if want := "STU-2027-CS-A-07"; respData.UserID != want {
					t.Errorf("failed! UserID = %q; want %q", respData.UserID, want)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
