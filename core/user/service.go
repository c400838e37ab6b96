package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/ratelimit"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// activation pipeline errors
	ErrIDTaken         = errors.New("employee ID already in use")
	ErrNotApproved     = errors.New("admin approval pending")
	ErrNotIssued       = errors.New("employee ID not issued")
	ErrNotNotified     = errors.New("employee ID email not sent yet")
	ErrAlreadyVerified = errors.New("account already verified")
	ErrRateLimited     = errors.New("too many verification attempts, try again later")
	ErrInvalidIssuedID = errors.New("invalid employee ID")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User's names, UserID or Email.
		FilterUsers(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		// FilterAccessRequests returns accounts still in the activation pipeline:
		// not approved, or approved but not verified.
		FilterAccessRequests(ctx context.Context, filter AccessRequestFilter) ([]User, error)
		CountUsersByRole(ctx context.Context, role string) (int, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
		SetLastLogin(ctx context.Context, id string, at time.Time) (User, error)

		SetActivationRequest(ctx context.Context, id, role, department string, at time.Time) (User, error)
		ApproveUser(ctx context.Context, id, approvedBy string) (User, error)
		// IssueActivationID must enforce ID uniqueness across permanent IDs,
		// issued IDs and profile employee/student IDs at write time, not via a
		// separate pre-check; returns ErrIDTaken on collision.
		IssueActivationID(ctx context.Context, id, issuedID string, at time.Time) (User, error)
		SetNotified(ctx context.Context, id string, at time.Time) (User, error)
		// IncrementVerificationAttempts atomically bumps the attempt counter and
		// timestamp, returning the new counter value. The counter only ever
		// grows; it is cleared exclusively by a successful verification.
		IncrementVerificationAttempts(ctx context.Context, id string, at time.Time) (int, error)
		// SaveVerification persists the profile write, verified flags and counter
		// reset in a single update.
		SaveVerification(ctx context.Context, usr User) (User, error)
	}

	Service interface {
		Register(ctx context.Context, nu NewUser) (User, error)
		Authenticate(ctx context.Context, loginID, pwd string) (User, error)
		EnsureActivationRequest(ctx context.Context, usr User) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)

		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Query(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		AccessRequests(ctx context.Context, filter AccessRequestFilter) ([]User, error)
		Update(ctx context.Context, id string, uu UpdateUser) (User, error)
		Delete(ctx context.Context, ids ...string) error
		CheckEmailUniqueness(email string, exclUsers ...User) error

		Approve(ctx context.Context, id, approvedBy string) (User, error)
		Issue(ctx context.Context, id, employeeID string) (User, error)
		Notify(ctx context.Context, id string) (User, error)
		Verify(ctx context.Context, id, candidate string) (User, error)

		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, rp ResetUserPassword) error
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
		logger  core.Logger
		conf    *core.Config
		window  ratelimit.Window
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
		logger:  logger,
		conf:    conf,
		window: ratelimit.Window{
			Max:  conf.VerificationMaxAttempts,
			Span: conf.VerificationAttemptWindow,
		},
	}
}

func (svc *service) CheckEmailUniqueness(email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(context.Background(), email, exclUsers...); err != nil {
		if err == ErrEmailExists {
			return core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Register(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	usr := User{
		ID:        uuid.NewString(),
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Email:     nu.Email,
		Phone:     nu.Phone,
		Role:      nu.Role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// only hold roles go through the activation pipeline
	usr.Verified = !IsHoldRole(nu.Role)
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}

	switch nu.Role {
	case RoleStudent:
		usr.StudentInfo = &StudentInfo{
			Department:     nu.Department,
			ClassYear:      nu.ClassYear,
			Division:       nu.Division,
			RollNo:         nu.RollNo,
			Semester:       max(nu.Semester, 1),
			EnrollmentDate: now,
		}
	case RoleFaculty:
		usr.FacultyInfo = &FacultyInfo{
			Department:    nu.Department,
			Designation:   nu.Designation,
			Qualification: nu.Qualification,
			JoiningDate:   now,
		}
	case RoleHOD:
		usr.HODInfo = &HODInfo{
			Department:      nu.Department,
			AppointmentDate: now,
		}
	case RoleParent:
		// no profile sub-document
	default:
		usr.StaffInfo = &StaffInfo{
			Department:  nu.Department,
			Office:      nu.Office,
			JoiningDate: now,
		}
	}

	userID, err := svc.generateUserID(ctx, &usr)
	if err != nil {
		return User{}, err
	}
	usr.UserID = userID

	return svc.repo.CreateUser(ctx, usr)
}

// generateUserID builds the permanent human-readable identifier assigned at
// registration: role prefix, year and a per-role sequence number.
func (svc *service) generateUserID(ctx context.Context, usr *User) (string, error) {
	year := NowFunc().Year()

	if usr.Role == RoleStudent {
		si := usr.StudentInfo
		return fmt.Sprintf("STU-%s-%s-%s-%02d", si.ClassYear, si.Department, si.Division, si.RollNo), nil
	}
	if usr.Role == RolePrincipal {
		return fmt.Sprintf("PRIN-%d-001", year), nil
	}

	count, err := svc.repo.CountUsersByRole(ctx, usr.Role)
	if err != nil {
		return "", err
	}
	seq := count + 1

	switch usr.Role {
	case RoleSuperAdmin:
		return fmt.Sprintf("SA-%d-%03d", year, seq), nil
	case RoleAdmin:
		return fmt.Sprintf("ADM-%d-%03d", year, seq), nil
	case RoleAcademicDean:
		return fmt.Sprintf("ADEAN-%d-%03d", year, seq), nil
	case RoleHOD:
		dept := usr.Department()
		if dept == "" {
			dept = "GEN"
		}
		return fmt.Sprintf("HOD-%s-%d-%02d", dept, year, seq), nil
	case RoleFaculty:
		return fmt.Sprintf("FAC-%d-%04d", year, seq), nil
	case RoleParent:
		return fmt.Sprintf("PAR-%d-%04d", year, seq), nil
	case RoleAccountant:
		return fmt.Sprintf("ACC-%d-%03d", year, seq), nil
	case RoleLibrarian:
		return fmt.Sprintf("LIB-%d-%03d", year, seq), nil
	case RolePlacementOfficer:
		return fmt.Sprintf("PLO-%d-%03d", year, seq), nil
	}
	return "", fmt.Errorf("invalid role: %s", usr.Role)
}

// Authenticate checks the credentials and returns the matching account.
// Unknown account and wrong password both map to ErrInvalidCredentials.
func (svc *service) Authenticate(ctx context.Context, loginID, pwd string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{UserIDOrEmail: core.CleanString(loginID, true /* lower */)})
	if err != nil {
		if err == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return usr, nil
}

// EnsureActivationRequest snapshots the requested role and department the first
// time a held account reaches the authentication gate; immutable thereafter.
func (svc *service) EnsureActivationRequest(ctx context.Context, usr User) (User, error) {
	if usr.RequestedAt.Valid {
		return usr, nil
	}
	return svc.repo.SetActivationRequest(ctx, usr.ID, usr.Role, usr.Department(), NowFunc().UTC())
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	return svc.repo.SetLastLogin(ctx, usr.ID, NowFunc().UTC())
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(ctx, *filter, orderings...)
}

func (svc *service) AccessRequests(ctx context.Context, filter AccessRequestFilter) ([]User, error) {
	return svc.repo.FilterAccessRequests(ctx, filter)
}

func (svc *service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr := User{
		ID:        id,
		FirstName: uu.FirstName,
		LastName:  uu.LastName,
		Email:     uu.Email,
		Phone:     uu.Phone,
		UpdatedAt: NowFunc().UTC(),
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

// Approve confirms admin approval for a held account. Re-approving an already
// approved account succeeds without side effects.
func (svc *service) Approve(ctx context.Context, id, approvedBy string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		return User{}, err
	}
	if usr.IsApproved {
		return usr, nil
	}
	return svc.repo.ApproveUser(ctx, id, approvedBy)
}

// Issue records the staff-supplied activation ID. The store rejects the write
// with ErrIDTaken if the value collides with any identifier in any role's
// namespace.
func (svc *service) Issue(ctx context.Context, id, employeeID string) (User, error) {
	return svc.repo.IssueActivationID(ctx, id, core.CleanString(employeeID), NowFunc().UTC())
}

// Notify dispatches the out-of-band message carrying the issued ID and, only
// when the dispatch succeeded, records the notification timestamp.
func (svc *service) Notify(ctx context.Context, id string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		return User{}, err
	}
	if !usr.IsApproved {
		return User{}, ErrNotApproved
	}
	if !usr.IssuedID.Valid {
		return User{}, ErrNotIssued
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name(), Address: usr.Email}},
		Subject:      "Your Employee ID",
		TemplateName: "employee-id",
		TemplateData: struct {
			Name       string
			EmployeeID string
		}{usr.Name(), usr.IssuedID.String},
	}
	if err := svc.mailSvc.SendMessage(msg); err != nil {
		// a failed dispatch must not mark the account as notified
		return User{}, err
	}
	return svc.repo.SetNotified(ctx, id, NowFunc().UTC())
}

// Verify consumes the notified ID and finalizes activation, guarded by a
// sliding-window limiter over the stored attempt counters.
func (svc *service) Verify(ctx context.Context, id, candidate string) (User, error) {
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: id})
	if err != nil {
		return User{}, err
	}
	if usr.Verified {
		return User{}, ErrAlreadyVerified
	}
	if !usr.IsApproved {
		return User{}, ErrNotApproved
	}
	if !usr.NotifiedAt.Valid {
		return User{}, ErrNotNotified
	}
	if !usr.IssuedID.Valid {
		return User{}, ErrNotIssued
	}

	now := NowFunc().UTC()
	counter := ratelimit.Counter{Attempts: usr.VerificationAttempts, LastAttempt: usr.LastAttemptAt.Time}
	if svc.window.Blocked(counter, now) {
		// the rejected attempt itself leaves the counters untouched
		return User{}, ErrRateLimited
	}

	if core.CleanString(candidate) != core.CleanString(usr.IssuedID.String) {
		if _, err := svc.repo.IncrementVerificationAttempts(ctx, id, now); err != nil {
			return User{}, err
		}
		return User{}, ErrInvalidIssuedID
	}

	usr.recordVerifiedID(usr.IssuedID.String)
	usr.Verified = true
	usr.VerifiedAt = null.TimeFrom(now)
	usr.VerificationAttempts = 0
	usr.LastAttemptAt = null.Time{}
	usr.UpdatedAt = now
	return svc.repo.SaveVerification(ctx, usr)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	token, err := MakeToken(usr)
	if err != nil {
		svc.logger.Error("generating password reset token", err, usr)
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name(), Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Name  string
			UID   string
			Token string
		}{usr.Name(), EncodeUID(usr), token},
	}
	svc.mailSvc.SendMessages(msg)
}

func (svc *service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "uid", Error: "invalid value"})
	}
	usr, err := svc.repo.GetUser(ctx, GetFilter{ID: uid})
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "uid", Error: "invalid value"})
	}
	if err := verifyToken(usr, rp.Token); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "token", Error: "invalid value"})
	}
	if err := usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return err
}
