package sqlxrepos

import (
	"context"

	"github.com/lib/pq"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

const userColumns = `id, first_name, last_name, email, roles, is_active, is_approved, approved_by,
	approved_at, password_hash, created_at, updated_at, last_login`

var userOrderings = map[string]string{
	"first_name": "first_name",
	"last_name":  "last_name",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

// userRow maps the roles array, which user.User keeps out of the column mapping.
type userRow struct {
	user.User
	Roles pq.StringArray `db:"roles"`
}

func newUserRow(usr user.User) userRow {
	return userRow{User: usr, Roles: pq.StringArray(usr.Roles)}
}

func (r userRow) toUser() user.User {
	usr := r.User
	usr.Roles = []string(r.Roles)
	if usr.Roles == nil {
		usr.Roles = []string{}
	}
	return usr
}

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :first_name, :last_name, :email, :roles, :is_active, :is_approved, :approved_by,
			:approved_at, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.namedExec(ctx, q, newUserRow(usr)); err != nil {
		return user.User{}, core.TranslateDBError(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			s := "%" + filter.Search + "%"
			w.add("(first_name ILIKE ? OR last_name ILIKE ? OR email ILIKE ?)", s, s, s)
		}
		if len(filter.Roles) > 0 {
			prefixes := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixes = append(prefixes, role+"%")
			}
			w.add("EXISTS (SELECT 1 FROM unnest(roles) AS r WHERE r LIKE ANY (?))", pq.StringArray(prefixes))
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
		if filter.IsApproved != nil {
			w.add("is_approved = ?", *filter.IsApproved)
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom)
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo)
		}
	}

	q, args, err := build(
		"SELECT "+userColumns+" FROM users"+w.String()+
			" ORDER BY "+core.OrderBy(ordering, userOrderings, "created_at DESC")+", id",
		w.args...,
	)
	if err != nil {
		return nil, err
	}

	var rows []userRow
	if err = repo.db.selectAll(ctx, &rows, q, args...); err != nil {
		return nil, core.TranslateDBError(err, "selecting users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	var (
		row userRow
		err error
	)
	switch {
	case filter.ID != "":
		err = repo.db.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE id = $1", filter.ID)
	case filter.Email != "":
		err = repo.db.get(ctx, &row, "SELECT "+userColumns+" FROM users WHERE email = $1", filter.Email)
	default:
		return user.User{}, user.ErrNotFound
	}
	if err != nil {
		return user.User{}, core.TranslateDBError(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
		UPDATE users SET
			first_name = :first_name, last_name = :last_name, email = :email, roles = :roles,
			is_active = :is_active, is_approved = :is_approved, approved_by = :approved_by,
			approved_at = :approved_at, password_hash = :password_hash, updated_at = :updated_at,
			last_login = :last_login
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, newUserRow(usr))
	if err != nil {
		return user.User{}, core.TranslateDBError(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := repo.db.exec(ctx, "DELETE FROM users WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return 0, core.TranslateDBError(err, "deleting users")
	}
	return int(n), nil
}

func (repo *userRepository) EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error) {
	found, err := repo.db.exists(
		ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1) AND NOT (id::text = ANY($2)))",
		email, pq.Array(excludedIDs),
	)
	return found, core.TranslateDBError(err, "checking email")
}
