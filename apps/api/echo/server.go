package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
)

const maxBodySize = "20M"

type (
	Deps struct {
		Conf       *core.Config
		Logger     core.Logger
		Cache      core.Cache
		Validate   *validator.Validate
		Translator ut.Translator

		UserSvc        *user.Service
		SchoolSvc      *school.Service
		StudentSvc     *student.Service
		ClassSvc       *class.Service
		GradeSvc       *grade.Service
		DocumentSvc    *document.Service
		CertificateSvc *certificate.Service
		AuditSvc       *audit.Service
	}

	Server struct {
		deps     Deps
		app      *echo.Echo
		authed   []echo.MiddlewareFunc
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.BodyLimit(maxBodySize))
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{conf.FrontendBaseURL},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	if conf.Storage.Root != "" {
		s.app.Static("/files", conf.Storage.Root)
	}

	v1 := s.app.Group("/v1")
	s.authed = []echo.MiddlewareFunc{middleware.JWTWithConfig(jwtConfig(conf)), s.userMiddleware}

	s.registerAuthAPI(v1)
	s.registerUserAPI(v1)
	s.registerSchoolAPI(v1)
	s.registerStudentAPI(v1)
	s.registerClassAPI(v1)
	s.registerGradeAPI(v1)
	s.registerDocumentAPI(v1)
	s.registerCertificateAPI(v1)
	s.registerPortalAPI(v1)
	s.registerAuditAPI(v1)
}

// with returns the auth middlewares followed by m.
func (s *Server) with(m ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	mw := make([]echo.MiddlewareFunc, 0, len(s.authed)+len(m))
	mw = append(mw, s.authed...)
	return append(mw, m...)
}

// Start listens on the configured host and blocks. Listen errors are sent to Errors.
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the "+s.deps.Conf.AppName+" API!")
}
