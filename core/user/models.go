package user

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/nuruedu/nuru/core"
)

// Roles
const (
	RoleSuperAdmin       = "super_admin"
	RoleAdmin            = "admin"
	RolePrincipal        = "principal"
	RoleAcademicDean     = "academic_dean"
	RoleHOD              = "hod"
	RoleFaculty          = "faculty"
	RoleStudent          = "student"
	RoleParent           = "parent"
	RoleAccountant       = "accountant"
	RoleLibrarian        = "librarian"
	RolePlacementOfficer = "placement_officer"
)

// Token scopes
const (
	ScopeHold = "hold"
	ScopeFull = "full"
)

// Activation stages reported to clients while an account is on hold.
// The original system reuses StageAwaitingAdminApproval for accounts that are
// approved but whose issued ID has not been sent out yet; clients only get
// StageAwaitingEmployeeIDInput once the notification went out.
type Stage string

const (
	StageAwaitingAdminApproval   Stage = "awaiting_admin_approval"
	StageAwaitingEmployeeIDInput Stage = "awaiting_employee_id_input"
)

var (
	AdminRoles = []string{RoleSuperAdmin, RoleAdmin}

	// HoldRoles is the closed set of privileged roles subject to staged
	// activation: accounts with these roles only get full credentials after
	// admin approval, ID issuance, notification and self-verification.
	HoldRoles = []string{
		RolePrincipal, RoleAcademicDean, RoleHOD, RoleFaculty,
		RoleStudent, RoleAccountant, RoleLibrarian, RolePlacementOfficer,
	}

	AllRoles = []string{
		RoleSuperAdmin, RoleAdmin, RolePrincipal, RoleAcademicDean, RoleHOD,
		RoleFaculty, RoleStudent, RoleParent, RoleAccountant, RoleLibrarian,
		RolePlacementOfficer,
	}

	Roles = []Role{
		{Name: "Super Admin", Value: RoleSuperAdmin},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Principal", Value: RolePrincipal},
		{Name: "Academic Dean", Value: RoleAcademicDean},
		{Name: "Head of Department", Value: RoleHOD},
		{Name: "Faculty", Value: RoleFaculty},
		{Name: "Student", Value: RoleStudent},
		{Name: "Parent", Value: RoleParent},
		{Name: "Accountant", Value: RoleAccountant},
		{Name: "Librarian", Value: RoleLibrarian},
		{Name: "Placement Officer", Value: RolePlacementOfficer},
	}
)

func IsHoldRole(role string) bool {
	for _, r := range HoldRoles {
		if r == role {
			return true
		}
	}
	return false
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Role-specific profile sub-documents. Exactly one variant matching User.Role
// is set; the others stay nil. Stored as JSONB columns.

type StudentInfo struct {
	StudentID      string    `json:"student_id,omitempty"`
	Department     string    `json:"department,omitempty"`
	ClassYear      string    `json:"class_year,omitempty"`
	Division       string    `json:"division,omitempty"`
	RollNo         int       `json:"roll_no,omitempty"`
	Semester       int       `json:"semester,omitempty"`
	EnrollmentDate time.Time `json:"enrollment_date,omitempty"`
}

type FacultyInfo struct {
	EmployeeID    string    `json:"employee_id,omitempty"`
	Department    string    `json:"department,omitempty"`
	Designation   string    `json:"designation,omitempty"`
	Qualification string    `json:"qualification,omitempty"`
	JoiningDate   time.Time `json:"joining_date,omitempty"`
}

type HODInfo struct {
	EmployeeID      string    `json:"employee_id,omitempty"`
	Department      string    `json:"department,omitempty"`
	AppointmentDate time.Time `json:"appointment_date,omitempty"`
}

// StaffInfo covers the remaining staff roles (admin, academic dean, accountant,
// librarian, placement officer).
type StaffInfo struct {
	EmployeeID  string    `json:"employee_id,omitempty"`
	Department  string    `json:"department,omitempty"`
	Office      string    `json:"office,omitempty"`
	JoiningDate time.Time `json:"joining_date,omitempty"`
}

func (i StudentInfo) Value() (driver.Value, error) { return json.Marshal(i) }
func (i *StudentInfo) Scan(src interface{}) error  { return scanJSON(src, i) }
func (i FacultyInfo) Value() (driver.Value, error) { return json.Marshal(i) }
func (i *FacultyInfo) Scan(src interface{}) error  { return scanJSON(src, i) }
func (i HODInfo) Value() (driver.Value, error)     { return json.Marshal(i) }
func (i *HODInfo) Scan(src interface{}) error      { return scanJSON(src, i) }
func (i StaffInfo) Value() (driver.Value, error)   { return json.Marshal(i) }
func (i *StaffInfo) Scan(src interface{}) error    { return scanJSON(src, i) }

func scanJSON(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	}
	return errors.Errorf("unsupported scan type %T", src)
}

type User struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"` // permanent human-readable identifier
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone,omitempty"`
	Role      string `db:"role" json:"role"`
	IsActive  bool   `db:"is_active" json:"is_active"`

	PasswordHash []byte `db:"password_hash" json:"-"`

	StudentInfo *StudentInfo `db:"student_info" json:"student_info,omitempty"`
	FacultyInfo *FacultyInfo `db:"faculty_info" json:"faculty_info,omitempty"`
	HODInfo     *HODInfo     `db:"hod_info" json:"hod_info,omitempty"`
	StaffInfo   *StaffInfo   `db:"staff_info" json:"staff_info,omitempty"`

	// activation pipeline; see ActivationStage
	RequestedRole       null.String `db:"requested_role" json:"requested_role,omitempty"`
	RequestedDepartment null.String `db:"requested_department" json:"requested_department,omitempty"`
	RequestedAt         null.Time   `db:"requested_at" json:"requested_at,omitempty"`
	IsApproved          bool        `db:"is_approved" json:"is_approved"`
	ApprovedBy          null.String `db:"approved_by" json:"-"`
	IssuedID            null.String `db:"issued_id" json:"-"` // staff-supplied, never generated
	IssuedAt            null.Time   `db:"issued_at" json:"issued_at,omitempty"`
	NotifiedAt          null.Time   `db:"notified_at" json:"notified_at,omitempty"`
	Verified            bool        `db:"verified" json:"verified"`
	VerifiedAt          null.Time   `db:"verified_at" json:"verified_at,omitempty"`

	VerificationAttempts int       `db:"verification_attempts" json:"-"`
	LastAttemptAt        null.Time `db:"last_attempt_at" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"` // UTC
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"` // UTC
	LastLogin time.Time `db:"last_login" json:"last_login"` // UTC
}

func (u *User) Name() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleSuperAdmin
}

// RequiresActivation reports whether the account is still gated by the staged
// activation pipeline: a hold role that has not completed self-verification.
func (u *User) RequiresActivation() bool {
	return IsHoldRole(u.Role) && !u.Verified
}

// ActivationStage computes the stage reported to a held account on login.
// Only meaningful when RequiresActivation is true.
func (u *User) ActivationStage() Stage {
	if !u.IsApproved {
		return StageAwaitingAdminApproval
	}
	if u.NotifiedAt.Valid {
		return StageAwaitingEmployeeIDInput
	}
	// approved but the issued ID has not been sent out yet
	return StageAwaitingAdminApproval
}

// Department returns the department recorded on the profile variant matching
// the account's role, if any.
func (u *User) Department() string {
	switch u.Role {
	case RoleStudent:
		if u.StudentInfo != nil {
			return u.StudentInfo.Department
		}
	case RoleFaculty:
		if u.FacultyInfo != nil {
			return u.FacultyInfo.Department
		}
	case RoleHOD:
		if u.HODInfo != nil {
			return u.HODInfo.Department
		}
	default:
		if u.StaffInfo != nil {
			return u.StaffInfo.Department
		}
	}
	return ""
}

// recordVerifiedID writes a successfully verified issued ID into the profile
// variant matching the account's role.
func (u *User) recordVerifiedID(id string) {
	switch u.Role {
	case RoleStudent:
		if u.StudentInfo == nil {
			u.StudentInfo = &StudentInfo{}
		}
		u.StudentInfo.StudentID = id
	case RoleFaculty:
		if u.FacultyInfo == nil {
			u.FacultyInfo = &FacultyInfo{}
		}
		u.FacultyInfo.EmployeeID = id
	case RoleHOD:
		if u.HODInfo == nil {
			u.HODInfo = &HODInfo{}
		}
		u.HODInfo.EmployeeID = id
	default:
		if u.StaffInfo == nil {
			u.StaffInfo = &StaffInfo{}
		}
		u.StaffInfo.EmployeeID = id
	}
}

// NewUser contains information needed to register a new User.
type NewUser struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Phone           string `json:"phone"`
	Role            string `json:"role" validate:"required,role"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`

	// role-specific payload; only the fields matching Role are read
	Department    string `json:"department"`
	Designation   string `json:"designation"`
	Qualification string `json:"qualification"`
	Office        string `json:"office"`
	ClassYear     string `json:"class_year"`
	Division      string `json:"division"`
	RollNo        int    `json:"roll_no"`
	Semester      int    `json:"semester"`
}

func (nu *NewUser) Validate(svc Service) error {
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
	nu.Department = core.CleanString(nu.Department)

	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	if nu.Role == RoleStudent && (nu.ClassYear == "" || nu.Department == "" || nu.Division == "" || nu.RollNo == 0) {
		return core.NewValidationError(
			errors.New("student info incomplete"),
			core.FieldError{Field: "department", Error: "class year, department, division and roll number are required for students"},
		)
	}
	return svc.CheckEmailUniqueness(nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone"`
	IsActive        *bool  `json:"is_active"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(origUsr User, svc Service) error {
	if name := core.CleanString(uu.FirstName); name != "" {
		uu.FirstName = name
	} else {
		uu.FirstName = origUsr.FirstName
	}
	if name := core.CleanString(uu.LastName); name != "" {
		uu.LastName = name
	} else {
		uu.LastName = origUsr.LastName
	}
	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := core.Validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate() error { return core.Validate.Struct(rp) }

// VerifyIssuedID is the self-verification payload: the account holder proves
// possession of the ID staff issued and sent out-of-band.
type VerifyIssuedID struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}

func (v *VerifyIssuedID) Validate() error {
	v.EmployeeID = core.CleanString(v.EmployeeID)
	return core.Validate.Struct(v)
}

// IssueID is the staff payload handing out an activation ID. The value is
// always human-supplied; the system never generates it.
type IssueID struct {
	EmployeeID string `json:"employee_id" validate:"required"`
}

func (i *IssueID) Validate() error {
	i.EmployeeID = core.CleanString(i.EmployeeID)
	return core.Validate.Struct(i)
}

type GetFilter struct {
	ID            string
	Email         string
	UserIDOrEmail string
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// AccessRequestFilter selects accounts still in the activation pipeline:
// not yet approved, or approved but not yet verified.
type AccessRequestFilter struct {
	Role       string `query:"role"`
	Department string `query:"department"`
}

func (af *AccessRequestFilter) Clean() {
	af.Role = core.CleanString(af.Role, true /* lower */)
	af.Department = core.CleanString(af.Department)
}
