package echoapi

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/user"
)

const (
	tokenContextKey    = "userToken"
	contextUserKey     = "user"
	revokedTokenPrefix = "jwt:revoked:"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Email        string   `json:"email,omitempty"`
	IsStudent    bool     `json:"is_student,omitempty"` // -> STUDENT PORTAL
	IsTeacher    bool     `json:"is_teacher,omitempty"` // -> TEACHER PORTAL
	IsAdmin      bool     `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
	Roles        []string `json:"roles,omitempty"`
}

// jwtConfig is the JWT auth middleware config.
func jwtConfig(conf *core.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

// GetUserClaims returns fresh claims for usr. origIat keeps the original issue time on refresh.
func GetUserClaims(conf *core.Config, usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Email:        usr.Email,
		IsStudent:    usr.IsStudent(),
		IsTeacher:    usr.IsTeacher(),
		IsAdmin:      usr.IsAdmin(),
		Roles:        usr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	cfg := jwtConfig(conf)
	token := jwt.NewWithClaims(jwt.GetSigningMethod(cfg.SigningMethod), claims)

	ss, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextUser returns the user loaded by userMiddleware.
func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUnauthorized
}

// authenticate resolves username (an email or a student LRN) and checks the password and account state.
func (s *Server) authenticate(ctx context.Context, username, pwd string) (user.User, error) {
	var usr user.User
	var err error
	if core.IsValidLRN(username) {
		stud, sErr := s.deps.StudentSvc.GetByLRN(ctx, username)
		switch {
		case sErr != nil:
			err = sErr
		case !stud.UserID.Valid:
			return user.User{}, errAuthenticationFailed
		default:
			usr, err = s.deps.UserSvc.GetByID(ctx, stud.UserID.String)
		}
	} else {
		usr, err = s.deps.UserSvc.GetByEmail(ctx, username)
	}
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return user.User{}, errAuthenticationFailed
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}

	if err = usr.CheckPassword(pwd); err != nil {
		return user.User{}, errAuthenticationFailed
	}
	if err = checkAccount(usr); err != nil {
		return user.User{}, err
	}
	usr, err = s.deps.UserSvc.SetLastLogin(ctx, usr)
	if err != nil {
		return user.User{}, errors.Wrap(err, "setting lastLogin")
	}
	return usr, nil
}

// checkAccount rejects accounts that may not hold a session.
func checkAccount(usr user.User) error {
	if !usr.IsActive {
		return errAccountDeactivated
	}
	if usr.IsTeacher() && !usr.IsAdmin() && !usr.IsApproved {
		return errPendingApproval
	}
	if usr.IsStaff() && !user.IsStaffEmail(usr.Email) {
		return errStaffEmailDomain
	}
	return nil
}

func (s *Server) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(s.deps.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	token, err := GenerateToken(s.deps.Conf, GetUserClaims(s.deps.Conf, usr, claims.OrigIssuedAt))
	if err != nil {
		return "", errors.Wrap(err, "generating token")
	}
	// the previous token stops working once refreshed
	if err = s.revokeToken(ctx.Request().Context(), claims); err != nil {
		return "", err
	}
	return token, nil
}

// revokeToken blacklists the token ID until the token expires.
func (s *Server) revokeToken(ctx context.Context, claims Claims) error {
	ttl := time.Until(time.Unix(claims.ExpiresAt, 0))
	if claims.Id == "" || ttl <= 0 {
		return nil
	}
	return errors.Wrap(
		s.deps.Cache.Set(ctx, revokedTokenPrefix+claims.Id, []byte("1"), ttl),
		"revoking token",
	)
}

func (s *Server) isRevoked(ctx context.Context, claims Claims) (bool, error) {
	if claims.Id == "" {
		return false, nil
	}
	_, err := s.deps.Cache.Get(ctx, revokedTokenPrefix+claims.Id)
	switch {
	case err == nil:
		return true, nil
	case errors.Cause(err) == core.ErrCacheMiss:
		return false, nil
	default:
		return false, errors.Wrap(err, "checking token revocation")
	}
}
