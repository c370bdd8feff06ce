package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

// userMiddleware loads the token's user into the context. It runs after the JWT middleware.
func (s *Server) userMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		revoked, err := s.isRevoked(ctx.Request().Context(), claims)
		if err != nil {
			return err
		}
		if revoked {
			return errTokenRevoked
		}

		usr, err := s.deps.UserSvc.GetByID(ctx.Request().Context(), claims.Subject)
		if err != nil {
			if errors.Cause(err) == core.ErrNotFound {
				return errUnauthorized
			}
			return errors.Wrap(err, "finding user by ID")
		}
		if !usr.IsActive {
			return errAccountDeactivated
		}
		ctx.Set(contextUserKey, usr)
		return next(ctx)
	}
}

// roleMiddleware only lets users through when allowed returns true.
func roleMiddleware(allowed func(usr *user.User) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if allowed(&usr) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

var (
	adminMiddleware   = roleMiddleware((*user.User).IsAdmin)
	staffMiddleware   = roleMiddleware((*user.User).IsStaff)
	studentMiddleware = roleMiddleware((*user.User).IsStudent)
)
