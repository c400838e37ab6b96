package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/nuruedu/nuru/core"
	"github.com/nuruedu/nuru/core/user"
)

type userRepository struct {
	db *userTable
}

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

var _ user.Repository = (*userRepository)(nil)

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query() {
		if strings.EqualFold(usr.Email, email) && !isExcluded(usr, excludedUsers) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	}
	for _, usr := range repo.query() {
		if filter.Email != "" && strings.EqualFold(usr.Email, filter.Email) {
			return usr, nil
		}
		if filter.UserIDOrEmail != "" &&
			(strings.EqualFold(usr.UserID, filter.UserIDOrEmail) || strings.EqualFold(usr.Email, filter.UserIDOrEmail)) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if filter.Search != "" && !matchesSearch(usr, filter.Search) {
			continue
		}
		if len(filter.Roles) > 0 && !containsRole(filter.Roles, usr.Role) {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		users = append(users, usr)
	}
	sortUsers(users, orderings)
	return users, nil
}

func (repo *userRepository) FilterAccessRequests(ctx context.Context, filter user.AccessRequestFilter) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	users := make([]user.User, 0)
	for _, usr := range repo.query() {
		if !user.IsHoldRole(usr.Role) || usr.Verified {
			continue
		}
		if filter.Role != "" && usr.Role != filter.Role {
			continue
		}
		if filter.Department != "" && usr.Department() != filter.Department {
			continue
		}
		users = append(users, usr)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (repo *userRepository) CountUsersByRole(ctx context.Context, role string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for _, usr := range repo.query() {
		if usr.Role == role {
			count++
		}
	}
	return count, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// only save set fields
	origUsr, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.FirstName != "" {
		origUsr.FirstName = usr.FirstName
	}
	if usr.LastName != "" {
		origUsr.LastName = usr.LastName
	}
	if usr.Email != "" {
		origUsr.Email = usr.Email
	}
	if usr.Phone != "" {
		origUsr.Phone = usr.Phone
	}
	if usr.PasswordHash != nil {
		origUsr.PasswordHash = usr.PasswordHash
	}
	if isActive != nil {
		origUsr.IsActive = *isActive
	}
	origUsr.UpdatedAt = usr.UpdatedAt
	return *origUsr, nil
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
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	for _, id := range ids {
		delete(repo.db.table, id)
	}
	return nil
}

func (repo *userRepository) SetLastLogin(ctx context.Context, id string, at time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.LastLogin = at
	return *usr, nil
}

func (repo *userRepository) SetActivationRequest(ctx context.Context, id, role, department string, at time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	if usr.RequestedAt.Valid {
		return *usr, nil
	}
	usr.RequestedRole = null.StringFrom(role)
	if department != "" {
		usr.RequestedDepartment = null.StringFrom(department)
	}
	usr.RequestedAt = null.TimeFrom(at)
	usr.UpdatedAt = at
	return *usr, nil
}

func (repo *userRepository) ApproveUser(ctx context.Context, id, approvedBy string) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.IsApproved = true
	usr.ApprovedBy = null.StringFrom(approvedBy)
	usr.UpdatedAt = time.Now().UTC()
	return *usr, nil
}

func (repo *userRepository) IssueActivationID(ctx context.Context, id, issuedID string, at time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	for _, other := range repo.query() {
		if other.ID == id {
			continue
		}
		if identifierTaken(other, issuedID) {
			return user.User{}, user.ErrIDTaken
		}
	}
	usr.IssuedID = null.StringFrom(issuedID)
	usr.IssuedAt = null.TimeFrom(at)
	usr.UpdatedAt = at
	return *usr, nil
}

func (repo *userRepository) SetNotified(ctx context.Context, id string, at time.Time) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	usr.NotifiedAt = null.TimeFrom(at)
	usr.UpdatedAt = at
	return *usr, nil
}

func (repo *userRepository) IncrementVerificationAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr, ok := repo.db.table[id]
	if !ok {
		return 0, user.ErrNotFound
	}
	usr.VerificationAttempts++
	usr.LastAttemptAt = null.TimeFrom(at)
	return usr.VerificationAttempts, nil
}

func (repo *userRepository) SaveVerification(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	origUsr, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	origUsr.StudentInfo = usr.StudentInfo
	origUsr.FacultyInfo = usr.FacultyInfo
	origUsr.HODInfo = usr.HODInfo
	origUsr.StaffInfo = usr.StaffInfo
	origUsr.Verified = usr.Verified
	origUsr.VerifiedAt = usr.VerifiedAt
	origUsr.VerificationAttempts = 0
	origUsr.LastAttemptAt = null.Time{}
	origUsr.UpdatedAt = usr.UpdatedAt
	return *origUsr, nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

func matchesSearch(usr user.User, search string) bool {
	search = strings.ToLower(search)
	for _, attr := range []string{usr.FirstName, usr.LastName, usr.UserID, usr.Email} {
		if strings.Contains(strings.ToLower(attr), search) {
			return true
		}
	}
	return false
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func sortUsers(users []user.User, orderings []core.DBOrdering) {
	if len(orderings) == 0 {
		orderings = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range orderings {
			var less, eq bool
			switch ord.Field {
			case "first_name":
				less, eq = users[i].FirstName < users[j].FirstName, users[i].FirstName == users[j].FirstName
			case "last_name":
				less, eq = users[i].LastName < users[j].LastName, users[i].LastName == users[j].LastName
			case "email":
				less, eq = users[i].Email < users[j].Email, users[i].Email == users[j].Email
			case "user_id":
				less, eq = users[i].UserID < users[j].UserID, users[i].UserID == users[j].UserID
			default: // created_at
				less, eq = users[i].CreatedAt.Before(users[j].CreatedAt), users[i].CreatedAt.Equal(users[j].CreatedAt)
			}
			if eq {
				continue
			}
			if ord.Ascending {
				return less
			}
			return !less
		}
		return false
	})
}

func identifierTaken(usr user.User, id string) bool {
	if usr.UserID == id || usr.IssuedID.String == id {
		return true
	}
	if usr.StudentInfo != nil && usr.StudentInfo.StudentID == id {
		return true
	}
	if usr.FacultyInfo != nil && usr.FacultyInfo.EmployeeID == id {
		return true
	}
	if usr.HODInfo != nil && usr.HODInfo.EmployeeID == id {
		return true
	}
	if usr.StaffInfo != nil && usr.StaffInfo.EmployeeID == id {
		return true
	}
	return false
}
