package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

// addUser creates an active, approved staff account, or updates the account already using email.
func (cli *commandLine) addUser(ctx context.Context, first, last, email, pwd, role string) error {
	nu := user.NewUser{
		FirstName:       first,
		LastName:        last,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           []string{role},
	}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: nu.Email})
	isNew := errors.Cause(err) == core.ErrNotFound
	if err != nil && !isNew {
		return err
	}
	if isNew {
		usr = user.User{ID: uuid.New().String(), CreatedAt: now}
	}
	usr.FirstName, usr.LastName, usr.Email = nu.FirstName, nu.LastName, nu.Email
	usr.Roles = nu.Roles
	usr.IsActive = true
	usr.IsApproved = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if isNew {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	}
	return err
}
