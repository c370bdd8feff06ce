package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, u := range t.users {
			if u.Email == usr.Email {
				return errDuplicate
			}
		}
		usr.Roles = append([]string(nil), usr.Roles...)
		t.users[usr.ID] = usr
		return nil
	})
	return usr, err
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(usr.FirstName), s) &&
			!strings.Contains(strings.ToLower(usr.LastName), s) &&
			!strings.Contains(strings.ToLower(usr.Email), s) {
			return false
		}
	}
	if len(filter.Roles) > 0 {
		var ok bool
		for _, role := range filter.Roles {
			if usr.RoleStartsWith(role) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if filter.IsApproved != nil && usr.IsApproved != *filter.IsApproved {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func lessUser(a, b user.User, field string) (less, equal bool) {
	switch field {
	case "first_name":
		return a.FirstName < b.FirstName, a.FirstName == b.FirstName
	case "last_name":
		return a.LastName < b.LastName, a.LastName == b.LastName
	case "email":
		return a.Email < b.Email, a.Email == b.Email
	case "last_login":
		return a.LastLogin.Time.Before(b.LastLogin.Time), a.LastLogin.Time.Equal(b.LastLogin.Time)
	default:
		return a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
	}
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	users := make([]user.User, 0)
	repo.db.read(func(t *tables) {
		for _, u := range t.users {
			if matchUser(u, filter) {
				users = append(users, u)
			}
		}
	})
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			less, equal := lessUser(users[i], users[j], ord.Field)
			if equal {
				continue
			}
			if ord.Ascending {
				return less
			}
			return !less
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter) (user.User, error) {
	var (
		usr   user.User
		found bool
	)
	repo.db.read(func(t *tables) {
		if filter.ID != "" {
			usr, found = t.users[filter.ID]
			return
		}
		for _, u := range t.users {
			if filter.Email != "" && u.Email == filter.Email {
				usr, found = u, true
				return
			}
		}
	})
	if !found {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.users[usr.ID]; !ok {
			return user.ErrNotFound
		}
		for _, u := range t.users {
			if u.ID != usr.ID && u.Email == usr.Email {
				return errDuplicate
			}
		}
		usr.Roles = append([]string(nil), usr.Roles...)
		t.users[usr.ID] = usr
		return nil
	})
	return usr, err
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	var n int
	err := repo.db.write(ctx, func(t *tables) error {
		for _, id := range ids {
			if _, ok := t.users[id]; ok {
				delete(t.users, id)
				n++
			}
		}
		// ON DELETE SET NULL
		for id, s := range t.students {
			if s.UserID.Valid && contains(ids, s.UserID.String) {
				s.UserID.Valid = false
				s.UserID.String = ""
				t.students[id] = s
			}
		}
		for id, c := range t.classes {
			if c.TeacherID.Valid && contains(ids, c.TeacherID.String) {
				c.TeacherID.Valid = false
				c.TeacherID.String = ""
				t.classes[id] = c
			}
		}
		return nil
	})
	return n, err
}

func (repo *userRepository) EmailExists(_ context.Context, email string, excludedIDs ...string) (bool, error) {
	var exists bool
	repo.db.read(func(t *tables) {
		for _, u := range t.users {
			if strings.EqualFold(u.Email, email) && !excluded(u.ID, excludedIDs) {
				exists = true
				return
			}
		}
	})
	return exists, nil
}
