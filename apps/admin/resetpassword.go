package main

import (
	"context"
	"time"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, email, pwd string) error {
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Email: core.CleanString(email, true /* lower */)})
	if err != nil {
		return err
	}

	// same policy as the API, checked against the account's own attributes
	check := user.NewUser{
		FirstName:       usr.FirstName,
		LastName:        usr.LastName,
		Email:           usr.Email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           usr.Roles,
	}
	if err = check.Validate(cli.validate); err != nil {
		return err
	}

	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return err
}
