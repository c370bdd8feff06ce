package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
	cachesvc "github.com/ampayon/gradebook/services/cache"
	logsvc "github.com/ampayon/gradebook/services/logger"
	"github.com/ampayon/gradebook/storage/database"
	sqlxrepos "github.com/ampayon/gradebook/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(false)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	repoDB := sqlxrepos.NewDB(db)

	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator, conf.Auth.StaffEmailDomain)
	user.LoadCommonPasswords(logger)

	auditSvc := audit.NewService(sqlxrepos.NewAuditRepository(repoDB))

	// start CLI
	cli := commandLine{
		db:       db,
		usrRepo:  sqlxrepos.NewUserRepository(repoDB),
		school:   school.NewService(sqlxrepos.NewSchoolRepository(repoDB), repoDB, cachesvc.NewMemoryCache(), auditSvc, conf, logger),
		students: student.NewService(sqlxrepos.NewStudentRepository(repoDB), repoDB, auditSvc),
		validate: validate,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}
