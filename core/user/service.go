package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
)

const table = "users"

var (
	// errors
	ErrNotFound           = core.ErrNotFound
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidResetToken  = core.NewValidationError(errors.New("invalid or expired password reset link"))
	ErrNotTeacher         = core.NewValidationError(errors.New("user is not a teacher"))
	ErrAlreadyApproved    = core.NewConflictError("teacher is already approved")
	ErrCannotDeactivateMe = core.NewValidationError(errors.New("you cannot deactivate your own account"))
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.FirstName, User.LastName or User.Email.
		// Roles match by prefix.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) (int, error)
		EmailExists(ctx context.Context, email string, excludedIDs ...string) (bool, error)
	}

	Service struct {
		repo    Repository
		tx      core.Transactor
		mailSvc core.EmailService
		audit   audit.Recorder
		tokens  tokenGenerator
	}
)

func NewService(repo Repository, tx core.Transactor, mailSvc core.EmailService, auditor audit.Recorder, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		mailSvc: mailSvc,
		audit:   auditor,
		tokens:  tokenGenerator{secretKey: conf.SecretKey, timeout: conf.PasswordResetTimeoutDelta},
	}
}

// CheckUniqueness reports email clashes as a ValidationError.
func (svc *Service) CheckUniqueness(ctx context.Context, email string, exclUsers ...User) error {
	ids := make([]string, 0, len(exclUsers))
	for _, u := range exclUsers {
		ids = append(ids, u.ID)
	}
	exists, err := svc.repo.EmailExists(ctx, email, ids...)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
	}
	return nil
}

// Create creates a user. Staff accounts created by an admin are approved right away
// unless NewUser.IsApproved says otherwise.
func (svc *Service) Create(ctx context.Context, nu NewUser, actorID string) (User, error) {
	if err := svc.CheckUniqueness(ctx, nu.Email); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		ID:         uuid.New().String(),
		FirstName:  nu.FirstName,
		LastName:   nu.LastName,
		Email:      nu.Email,
		Roles:      nu.Roles,
		IsActive:   true,
		IsApproved: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if nu.IsApproved != nil {
		usr.IsApproved = *nu.IsApproved
	}
	if usr.IsApproved && actorID != "" {
		usr.ApprovedBy = null.StringFrom(actorID)
		usr.ApprovedAt = null.TimeFrom(now)
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if usr, err = svc.repo.CreateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "inserting user")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionUserCreated, table, usr.ID).WithNew(usr))
	})
	return usr, err
}

// Register signs up a teacher. The account stays pending until an admin approves it.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	pending := false
	nu.IsApproved = &pending
	nu.Roles = []string{RoleTeacher}
	return svc.Create(ctx, nu, "")
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

// QueryPendingTeachers lists teacher accounts waiting for approval.
func (svc *Service) QueryPendingTeachers(ctx context.Context) ([]User, error) {
	approved := false
	return svc.repo.QueryUsers(
		ctx,
		&QueryFilter{Roles: []string{RoleTeacher}, IsApproved: &approved},
		[]core.DBOrdering{{Field: "created_at", Ascending: true}},
	)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser, actorID string) (User, error) {
	if uu.Email != usr.Email {
		if err := svc.CheckUniqueness(ctx, uu.Email, usr); err != nil {
			return User{}, err
		}
	}

	old := usr
	usr.FirstName = uu.FirstName
	usr.LastName = uu.LastName
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = time.Now().UTC()

	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionUserUpdated, table, usr.ID).WithOld(old).WithNew(usr))
	})
	return usr, err
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	usr.LastLogin = null.TimeFrom(now)
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) ChangePassword(ctx context.Context, usr User, cp ChangePassword) error {
	if err := usr.SetPassword(cp.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err := svc.repo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}

// Approve approves a pending teacher and notifies them.
func (svc *Service) Approve(ctx context.Context, id, adminID string) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !usr.IsTeacher() {
		return User{}, ErrNotTeacher
	}
	if usr.IsApproved {
		return User{}, ErrAlreadyApproved
	}

	now := time.Now().UTC()
	usr.IsApproved = true
	usr.ApprovedBy = null.StringFrom(adminID)
	usr.ApprovedAt = null.TimeFrom(now)
	usr.UpdatedAt = now

	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		return svc.audit.Record(ctx, audit.NewEntry(adminID, audit.ActionTeacherApproved, table, usr.ID))
	})
	if err != nil {
		return User{}, err
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject:      "Your account has been approved",
		TemplateName: "teacher_approved",
		TemplateData: map[string]interface{}{"Name": usr.FirstName},
	})
	return usr, nil
}

// Deactivate prevents a user from signing in.
func (svc *Service) Deactivate(ctx context.Context, id, adminID string) (User, error) {
	if id == adminID {
		return User{}, ErrCannotDeactivateMe
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	usr.IsActive = false
	usr.UpdatedAt = time.Now().UTC()

	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		return svc.audit.Record(ctx, audit.NewEntry(adminID, audit.ActionUserDeactivated, table, usr.ID))
	})
	return usr, err
}

func (svc *Service) Delete(ctx context.Context, actorID string, ids ...string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.DeleteUsersByID(ctx, ids...); err != nil {
			return errors.Wrap(err, "deleting users")
		}
		for _, id := range ids {
			if err := svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionUserDeleted, table, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RequestPasswordReset emails a password reset link to an active user.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.FirstName,
			"UID":   EncodeUID(usr),
			"Token": svc.tokens.makeToken(usr),
		},
	})
}

// PasswordResetToken returns a fresh reset token; used by the admin tooling and tests.
func (svc *Service) PasswordResetToken(usr User) string {
	return svc.tokens.makeToken(usr)
}

func (svc *Service) ResetPassword(ctx context.Context, rp ResetUserPassword) error {
	id, err := decodeUID(rp.UID)
	if err != nil {
		return ErrInvalidResetToken
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrInvalidResetToken
		}
		return err
	}
	if err = svc.tokens.verifyToken(usr, rp.Token); err != nil {
		return ErrInvalidResetToken
	}

	if err = usr.SetPassword(rp.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.UpdateUser(ctx, usr); err != nil {
			return errors.Wrap(err, "updating user")
		}
		return svc.audit.Record(ctx, audit.NewEntry(usr.ID, audit.ActionPasswordReset, table, usr.ID))
	})
}
