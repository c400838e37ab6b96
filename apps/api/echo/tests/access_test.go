package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	echoapi "github.com/nuruedu/nuru/apps/api/echo"
	"github.com/nuruedu/nuru/core/user"
	emailsvc "github.com/nuruedu/nuru/services/email"
	testutil "github.com/nuruedu/nuru/tests"
)

// Test_userApi_activationPipeline walks an account through the whole staged
// activation flow: admin confirmation, ID issuance, out-of-band notification
// and rate-limited self-verification.
func Test_userApi_activationPipeline(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	parent := testutil.CreateUser(t, usrRepo, "Papa", "Roach", "papa@nuru.edu", "", user.RoleParent, true)
	faculty := testutil.CreateUser(t, usrRepo, "Jane", "Doe", "jane@nuru.edu", "", user.RoleFaculty, true)
	hod := testutil.CreateUser(t, usrRepo, "Head", "Dept", "hod@nuru.edu", "", user.RoleHOD, true)

	adminToken := getToken(t, admin)
	parentToken := getToken(t, parent)
	holdToken := getHoldToken(t, faculty)

	confirmPath := fmt.Sprintf("/api/users/access/confirm/%s", faculty.ID)
	issuePath := fmt.Sprintf("/api/users/access/issue-id/%s", faculty.ID)
	notifyPath := fmt.Sprintf("/api/users/access/send-id-email/%s", faculty.ID)
	verifyPath := "/api/users/access/verify-employee-id"

	issueBody := func(id string) []byte { return marchallObj(t, user.IssueID{EmployeeID: id}) }
	verifyBody := func(id string) []byte { return marchallObj(t, user.VerifyIssuedID{EmployeeID: id}) }

	do := func(t *testing.T, tt httpTest) *json.Decoder {
		t.Helper()
		req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
		app.ServeHTTP(rec, req)
		if tt.wantData != nil {
			checkCodeAndData(t, tt, rec)
		} else if rec.Code != tt.wantCode {
			t.Fatalf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
		}
		return json.NewDecoder(rec.Body)
	}

	t.Run("hold token blocked outside allow-list", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodGet, path: "/api/users", token: holdToken,
			wantCode: http.StatusForbidden, wantData: []byte(`{"error": "account pending activation"}`),
		})
	})

	t.Run("hold token reaches the status endpoint", func(t *testing.T) {
		dec := do(t, httpTest{method: http.MethodGet, path: "/api/auth/me", token: holdToken, wantCode: http.StatusOK})
		var respData echoapi.MeResponse
		if err := dec.Decode(&respData); err != nil {
			t.Fatalf("Decode() failed! err %v", err)
		}
		if respData.Stage != user.StageAwaitingAdminApproval {
			t.Errorf("failed! Stage = %q; want %q", respData.Stage, user.StageAwaitingAdminApproval)
		}
		if respData.IDIssued {
			t.Error("failed! IDIssued = true")
		}
	})

	t.Run("verify before approval", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("EMP-207"),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"error": "Confirm user first"}`),
		})
	})

	t.Run("admin required on staff endpoints", func(t *testing.T) {
		for path, method := range map[string]string{
			confirmPath: http.MethodPut,
			issuePath:   http.MethodPut,
			notifyPath:  http.MethodPost,
		} {
			do(t, httpTest{
				method: method, path: path, token: parentToken, body: issueBody("EMP-207"),
				wantCode: http.StatusForbidden, wantData: []byte(`{"error": "permission denied"}`),
			})
		}
	})

	t.Run("access requests list the held accounts", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodGet, path: "/api/users/access/requests", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallList(t, faculty, hod),
		})
	})

	t.Run("notify before issuance", func(t *testing.T) {
		// confirm first so ErrNotIssued is what trips
		dec := do(t, httpTest{method: http.MethodPut, path: confirmPath, token: adminToken, wantCode: http.StatusOK})
		var respData user.User
		if err := dec.Decode(&respData); err != nil {
			t.Fatalf("Decode() failed! err %v", err)
		}
		if !respData.IsApproved {
			t.Error("failed! IsApproved = false")
		}

		do(t, httpTest{
			method: http.MethodPost, path: notifyPath, token: adminToken,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"error": "Issue an Employee ID first"}`),
		})
	})

	t.Run("issued ID must be unique across namespaces", func(t *testing.T) {
		hod = testutil.Approve(t, usrRepo, hod, admin.ID)
		hod = testutil.IssueID(t, usrRepo, hod, "EMP-100")

		do(t, httpTest{
			method: http.MethodPut, path: issuePath, token: adminToken, body: issueBody("EMP-100"),
			wantCode: http.StatusConflict, wantData: []byte(`{"error": "employee ID already in use"}`),
		})
	})

	t.Run("issue trims the supplied ID", func(t *testing.T) {
		dec := do(t, httpTest{method: http.MethodPut, path: issuePath, token: adminToken, body: issueBody("  EMP-207  "), wantCode: http.StatusOK})
		var respData user.User
		if err := dec.Decode(&respData); err != nil {
			t.Fatalf("Decode() failed! err %v", err)
		}
		if !respData.IssuedAt.Valid {
			t.Error("failed! IssuedAt not set")
		}
	})

	t.Run("verify before notification", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("EMP-207"),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"error": "Employee ID email not sent yet"}`),
		})
	})

	t.Run("send the employee ID email", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodPost, path: notifyPath, token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Employee ID email sent."}),
		})

		if len(emailsvc.SentMessages) != 1 {
			t.Fatalf("failed! len(SentMessages) = %d; want 1", len(emailsvc.SentMessages))
		}
		msg := emailsvc.SentMessages[0]
		if msg.TemplateName != "employee-id" {
			t.Errorf("failed! TemplateName = %q; want %q", msg.TemplateName, "employee-id")
		}
		if msg.To[0].Address != faculty.Email {
			t.Errorf("failed! To = %v; want %v", msg.To[0].Address, faculty.Email)
		}
		if !strings.Contains(msg.TextContent, "EMP-207") {
			t.Error("failed! text content does not carry the issued ID")
		}
	})

	t.Run("wrong guesses burn the attempt window", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			do(t, httpTest{
				method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("WRONG"),
				wantCode: http.StatusBadRequest, wantData: []byte(`{"error": "invalid employee ID"}`),
			})
		}

		// even the right ID is refused while the window is burning
		do(t, httpTest{
			method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("EMP-207"),
			wantCode: http.StatusTooManyRequests, wantData: []byte(`{"error": "too many verification attempts, try again later"}`),
		})
	})

	var fullToken string
	t.Run("verify once the window has passed", func(t *testing.T) {
		user.NowFunc = func() time.Time { return time.Now().Add(61 * time.Minute) }
		t.Cleanup(func() { user.NowFunc = time.Now })

		dec := do(t, httpTest{method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("EMP-207"), wantCode: http.StatusOK})
		var respData echoapi.LoginResponse
		if err := dec.Decode(&respData); err != nil {
			t.Fatalf("Decode() failed! err %v", err)
		}
		if respData.Token == "" {
			t.Fatal("failed! empty token")
		}
		if !respData.User.Verified {
			t.Error("failed! Verified = false")
		}
		if respData.User.FacultyInfo == nil || respData.User.FacultyInfo.EmployeeID != "EMP-207" {
			t.Errorf("failed! FacultyInfo = %+v; want EmployeeID %q", respData.User.FacultyInfo, "EMP-207")
		}
		fullToken = respData.Token
	})

	t.Run("re-verification is refused", func(t *testing.T) {
		do(t, httpTest{
			method: http.MethodPost, path: verifyPath, token: holdToken, body: verifyBody("EMP-207"),
			wantCode: http.StatusConflict, wantData: []byte(`{"error": "account already verified"}`),
		})
	})

	t.Run("full token opens the gate", func(t *testing.T) {
		dec := do(t, httpTest{method: http.MethodGet, path: "/api/auth/me", token: fullToken, wantCode: http.StatusOK})
		var respData echoapi.MeResponse
		if err := dec.Decode(&respData); err != nil {
			t.Fatalf("Decode() failed! err %v", err)
		}
		if respData.RequiresActivation {
			t.Error("failed! RequiresActivation = true")
		}
	})
}

func Test_userApi_accessRequestsFilter(t *testing.T) {
	resetDB(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "Admin", "admin@nuru.edu", "", user.RoleAdmin, true)
	faculty := testutil.CreateUser(t, usrRepo, "Jane", "Doe", "jane@nuru.edu", "", user.RoleFaculty, true)
	hod := testutil.CreateUser(t, usrRepo, "Head", "Dept", "hod@nuru.edu", "", user.RoleHOD, true)

	adminToken := getToken(t, admin)
	empty := marchallList(t, []interface{}{}...)

	tests := []httpTest{
		{name: "Auth required", path: "/api/users/access/requests", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/api/users/access/requests", token: getHoldToken(t, faculty),
			wantCode: http.StatusForbidden, wantData: []byte(`{"error": "account pending activation"}`),
		},
		{name: "all held accounts", path: "/api/users/access/requests", token: adminToken, wantData: marchallList(t, faculty, hod)},
		{name: "filter by role", path: "/api/users/access/requests?role=hod", token: adminToken, wantData: marchallList(t, hod)},
		{name: "filter by role (none)", path: "/api/users/access/requests?role=student", token: adminToken, wantData: empty},
		{name: "filter by department", path: "/api/users/access/requests?department=CS", token: adminToken, wantData: marchallList(t, faculty, hod)},
		{name: "filter by department (none)", path: "/api/users/access/requests?department=EE", token: adminToken, wantData: empty},
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
