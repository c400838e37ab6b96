package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/user"
)

const userColumns = `id, user_id, first_name, last_name, email, phone, role, is_active, password_hash,
student_info, faculty_info, hod_info, staff_info,
requested_role, requested_department, requested_at, is_approved, approved_by,
issued_id, issued_at, notified_at, verified, verified_at,
verification_attempts, last_attempt_at, created_at, updated_at, last_login`

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

var _ user.Repository = (*userRepository)(nil)

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER(?)`
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		query += ` AND id NOT IN (?)`
		args = append(args, ids)
	}
	query += `)`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, repo.db.Rebind(query), inArgs...); err != nil {
		return errors.Wrap(err, "checking email")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	query := `
INSERT INTO users (` + userColumns + `)
VALUES (:id, :user_id, :first_name, :last_name, :email, :phone, :role, :is_active, :password_hash,
:student_info, :faculty_info, :hod_info, :staff_info,
:requested_role, :requested_department, :requested_at, :is_approved, :approved_by,
:issued_id, :issued_at, :notified_at, :verified, :verified_at,
:verification_attempts, :last_attempt_at, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, query, usr); err != nil {
		return user.User{}, errors.Wrap(err, "creating user")
	}
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		where string
		arg   interface{}
	)
	switch {
	case filter.ID != "":
		where, arg = `id = $1`, filter.ID
	case filter.Email != "":
		where, arg = `LOWER(email) = LOWER($1)`, filter.Email
	case filter.UserIDOrEmail != "":
		where, arg = `(LOWER(user_id) = LOWER($1) OR LOWER(email) = LOWER($1))`, filter.UserIDOrEmail
	default:
		return user.User{}, user.ErrNotFound
	}

	var usr user.User
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	if err := repo.db.GetContext(ctx, &usr, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return usr, nil
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	var args []interface{}

	if filter.Search != "" {
		query += ` AND (first_name ILIKE ? OR last_name ILIKE ? OR user_id ILIKE ? OR email ILIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like, like, like)
	}
	if len(filter.Roles) > 0 {
		query += ` AND role IN (?)`
		args = append(args, filter.Roles)
	}
	if filter.IsActive != nil {
		query += ` AND is_active = ?`
		args = append(args, *filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.CreatedTo)
	}

	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "created_at"}}
	}
	query += ` ORDER BY `
	for i, ord := range orderings {
		if i > 0 {
			query += `, `
		}
		query += ord.String()
	}

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	users := make([]user.User, 0)
	if err := repo.db.SelectContext(ctx, &users, repo.db.Rebind(query), inArgs...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	return users, nil
}

func (repo *userRepository) FilterAccessRequests(ctx context.Context, filter user.AccessRequestFilter) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role IN (?) AND NOT verified`
	args := []interface{}{user.HoldRoles}

	if filter.Role != "" {
		query += ` AND role = ?`
		args = append(args, filter.Role)
	}
	if filter.Department != "" {
		query += ` AND COALESCE(
student_info->>'department', faculty_info->>'department',
hod_info->>'department', staff_info->>'department') = ?`
		args = append(args, filter.Department)
	}
	query += ` ORDER BY created_at ASC`

	query, inArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	users := make([]user.User, 0)
	if err := repo.db.SelectContext(ctx, &users, repo.db.Rebind(query), inArgs...); err != nil {
		return nil, errors.Wrap(err, "filtering access requests")
	}
	return users, nil
}

func (repo *userRepository) CountUsersByRole(ctx context.Context, role string) (int, error) {
	var count int
	if err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users WHERE role = $1`, role); err != nil {
		return 0, errors.Wrap(err, "counting users")
	}
	return count, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	query := `
UPDATE users SET
	first_name = COALESCE(NULLIF($2, ''), first_name),
	last_name = COALESCE(NULLIF($3, ''), last_name),
	email = COALESCE(NULLIF($4, ''), email),
	phone = COALESCE(NULLIF($5, ''), phone),
	password_hash = COALESCE(NULLIF($6, ''::bytea), password_hash),
	is_active = COALESCE($7, is_active),
	updated_at = $8
WHERE id = $1
RETURNING ` + userColumns

	var updated user.User
	err := repo.db.GetContext(ctx, &updated, query,
		usr.ID, usr.FirstName, usr.LastName, usr.Email, usr.Phone, usr.PasswordHash, isActive, usr.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return updated, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	existing, err := repo.GetUser(ctx, user.GetFilter{Email: usr.Email})
	if err != nil {
		if err == user.ErrNotFound {
			return repo.CreateUser(ctx, usr)
		}
		return user.User{}, err
	}
	usr.ID = existing.ID
	return repo.UpdateUser(ctx, usr, nil)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	query, args, err := sqlx.In(`DELETE FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err := repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (repo *userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) (user.User, error) {
	return repo.getRow(ctx, `UPDATE users SET last_login = $2 WHERE id = $1 RETURNING `+userColumns, id, at)
}

func (repo *userRepository) SetActivationRequest(ctx context.Context, id, role, department string, at time.Time) (user.User, error) {
	query := `
UPDATE users SET
	requested_role = $2,
	requested_department = NULLIF($3, ''),
	requested_at = $4,
	updated_at = $4
WHERE id = $1 AND requested_at IS NULL
RETURNING ` + userColumns

	usr, err := repo.getRow(ctx, query, id, role, department, at)
	if err == user.ErrNotFound {
		// already snapshotted by a concurrent login
		return repo.GetUser(ctx, user.GetFilter{ID: id})
	}
	return usr, err
}

func (repo *userRepository) ApproveUser(ctx context.Context, id, approvedBy string) (user.User, error) {
	query := `
UPDATE users SET is_approved = TRUE, approved_by = $2, updated_at = $3
WHERE id = $1
RETURNING ` + userColumns
	return repo.getRow(ctx, query, id, approvedBy, time.Now().UTC())
}

// IssueActivationID records the ID only if the value is free across every
// identifier namespace: permanent user IDs, previously issued IDs and verified
// profile IDs. The cross-check and the write happen in one statement.
func (repo *userRepository) IssueActivationID(ctx context.Context, id, issuedID string, at time.Time) (user.User, error) {
	query := `
UPDATE users SET issued_id = $2, issued_at = $3, updated_at = $3
WHERE id = $1 AND NOT EXISTS (
	SELECT 1 FROM users u WHERE u.id <> $1 AND (
		u.user_id = $2
		OR u.issued_id = $2
		OR u.student_info->>'student_id' = $2
		OR u.faculty_info->>'employee_id' = $2
		OR u.hod_info->>'employee_id' = $2
		OR u.staff_info->>'employee_id' = $2
	)
)
RETURNING ` + userColumns

	usr, err := repo.getRow(ctx, query, id, issuedID, at)
	if err == user.ErrNotFound {
		// distinguish a missing user from a taken ID
		if _, getErr := repo.GetUser(ctx, user.GetFilter{ID: id}); getErr != nil {
			return user.User{}, getErr
		}
		return user.User{}, user.ErrIDTaken
	}
	return usr, err
}

func (repo *userRepository) SetNotified(ctx context.Context, id string, at time.Time) (user.User, error) {
	return repo.getRow(ctx, `UPDATE users SET notified_at = $2, updated_at = $2 WHERE id = $1 RETURNING `+userColumns, id, at)
}

func (repo *userRepository) IncrementVerificationAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	query := `
UPDATE users SET
	verification_attempts = verification_attempts + 1,
	last_attempt_at = $2
WHERE id = $1
RETURNING verification_attempts`

	var attempts int
	if err := repo.db.GetContext(ctx, &attempts, query, id, at); err != nil {
		if err == sql.ErrNoRows {
			return 0, user.ErrNotFound
		}
		return 0, errors.Wrap(err, "incrementing verification attempts")
	}
	return attempts, nil
}

func (repo *userRepository) SaveVerification(ctx context.Context, usr user.User) (user.User, error) {
	query := `
UPDATE users SET
	student_info = $2,
	faculty_info = $3,
	hod_info = $4,
	staff_info = $5,
	verified = $6,
	verified_at = $7,
	verification_attempts = 0,
	last_attempt_at = NULL,
	updated_at = $8
WHERE id = $1
RETURNING ` + userColumns
	return repo.getRow(ctx, query,
		usr.ID, usr.StudentInfo, usr.FacultyInfo, usr.HODInfo, usr.StaffInfo,
		usr.Verified, usr.VerifiedAt, usr.UpdatedAt)
}

func (repo *userRepository) getRow(ctx context.Context, query string, args ...interface{}) (user.User, error) {
	var usr user.User
	if err := repo.db.GetContext(ctx, &usr, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return usr, nil
}
