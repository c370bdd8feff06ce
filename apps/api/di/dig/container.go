package digcontainer

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/ampayon/gradebook/apps/api/echo"
	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	blobsvc "github.com/ampayon/gradebook/services/blob"
	cachesvc "github.com/ampayon/gradebook/services/cache"
	emailsvc "github.com/ampayon/gradebook/services/email"
	logsvc "github.com/ampayon/gradebook/services/logger"
	"github.com/ampayon/gradebook/storage/database"
	sqlxrepos "github.com/ampayon/gradebook/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

// newDB creates the database when missing, connects and applies the pending migrations.
func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, *sqlxrepos.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, sqlxrepos.NewDB(db)
}

func newBlobStore(conf *core.Config) (core.BlobStore, error) {
	return blobsvc.NewFSStore(conf)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newValidate registers the custom validations and their translations.
func newValidate(conf *core.Config, translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator, conf.Auth.StaffEmailDomain)
	return validate
}

func newAuditService(db *sqlxrepos.DB) *audit.Service {
	return audit.NewService(sqlxrepos.NewAuditRepository(db))
}

func newUserService(db *sqlxrepos.DB, mailSvc core.EmailService, auditSvc *audit.Service, conf *core.Config) *user.Service {
	return user.NewService(sqlxrepos.NewUserRepository(db), db, mailSvc, auditSvc, conf)
}

func newSchoolService(
	db *sqlxrepos.DB,
	cache core.Cache,
	auditSvc *audit.Service,
	conf *core.Config,
	logger core.Logger,
) *school.Service {
	return school.NewService(sqlxrepos.NewSchoolRepository(db), db, cache, auditSvc, conf, logger)
}

func newStudentService(db *sqlxrepos.DB, auditSvc *audit.Service) *student.Service {
	return student.NewService(sqlxrepos.NewStudentRepository(db), db, auditSvc)
}

func newClassService(
	db *sqlxrepos.DB,
	auditSvc *audit.Service,
	schoolSvc *school.Service,
	studentSvc *student.Service,
	userSvc *user.Service,
) *class.Service {
	return class.NewService(sqlxrepos.NewClassRepository(db), db, auditSvc, schoolSvc, studentSvc, userSvc)
}

type gradeParams struct {
	dig.In
	DB       *sqlxrepos.DB
	Classes  *class.Service
	Students *student.Service
	School   *school.Service
	Users    *user.Service
	Audit    *audit.Service
	Mail     core.EmailService
	Logger   core.Logger
}

func newGradeService(p gradeParams) *grade.Service {
	return grade.NewService(
		sqlxrepos.NewGradeRepository(p.DB), p.DB, p.Classes, p.Students, p.School, p.Users, p.Audit, p.Mail, p.Logger,
	)
}

func newDocumentService(
	db *sqlxrepos.DB,
	blob core.BlobStore,
	gradeSvc *grade.Service,
	studentSvc *student.Service,
	schoolSvc *school.Service,
	auditSvc *audit.Service,
) *document.Service {
	return document.NewService(sqlxrepos.NewDocumentRepository(db), db, blob, gradeSvc, studentSvc, schoolSvc, auditSvc)
}

type certificateParams struct {
	dig.In
	DB       *sqlxrepos.DB
	Blob     core.BlobStore
	Cache    core.Cache
	Grades   *grade.Service
	Students *student.Service
	School   *school.Service
	Audit    *audit.Service
	Conf     *core.Config
	Logger   core.Logger
}

func newCertificateService(p certificateParams) *certificate.Service {
	return certificate.NewService(
		sqlxrepos.NewCertificateRepository(p.DB), p.DB, p.Blob, p.Cache, p.Grades, p.Students, p.School, p.Audit, p.Conf, p.Logger,
	)
}

type serverParams struct {
	dig.In
	Conf           *core.Config
	Logger         core.Logger
	Cache          core.Cache
	Validate       *validator.Validate
	Translator     ut.Translator
	UserSvc        *user.Service
	SchoolSvc      *school.Service
	StudentSvc     *student.Service
	ClassSvc       *class.Service
	GradeSvc       *grade.Service
	DocumentSvc    *document.Service
	CertificateSvc *certificate.Service
	AuditSvc       *audit.Service
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.Deps{
		Conf:           p.Conf,
		Logger:         p.Logger,
		Cache:          p.Cache,
		Validate:       p.Validate,
		Translator:     p.Translator,
		UserSvc:        p.UserSvc,
		SchoolSvc:      p.SchoolSvc,
		StudentSvc:     p.StudentSvc,
		ClassSvc:       p.ClassSvc,
		GradeSvc:       p.GradeSvc,
		DocumentSvc:    p.DocumentSvc,
		CertificateSvc: p.CertificateSvc,
		AuditSvc:       p.AuditSvc,
	})
}

// New returns a new dependency injection dig.Container
func New(opts ...dig.Option) *dig.Container {
	c := dig.New(opts...)

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(cachesvc.New))
	must(c.Provide(emailsvc.New))
	must(c.Provide(newBlobStore))
	must(c.Provide(newTranslator))
	must(c.Provide(newValidate))

	must(c.Provide(newAuditService))
	must(c.Provide(newUserService))
	must(c.Provide(newSchoolService))
	must(c.Provide(newStudentService))
	must(c.Provide(newClassService))
	must(c.Provide(newGradeService))
	must(c.Provide(newDocumentService))
	must(c.Provide(newCertificateService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
