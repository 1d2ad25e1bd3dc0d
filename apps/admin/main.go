package main

import (
	"log"
	"os"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	paysvc "github.com/trezcool/shule/services/payment"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	usrRepo := sqlxrepos.NewUserRepository(db)
	schoolRepo := sqlxrepos.NewSchoolRepository(db)
	enrollRepo := sqlxrepos.NewEnrollRepository(db)
	pmtRepo := sqlxrepos.NewPaymentRepository(db)

	mailSvc := emailsvc.NewConsoleService(conf)
	provider := paysvc.NewStripeProvider(conf)

	// start CLI
	cli := commandLine{
		db:        db,
		conf:      conf,
		usrSvc:    user.NewService(usrRepo),
		schoolSvc: school.NewService(schoolRepo),
		enrollSvc: enroll.NewService(
			enrollRepo, schoolRepo, pmtRepo, provider, usrRepo, mailSvc, stdLogger{logger}, conf),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}

// stdLogger adapts the standard logger to core.Logger for CLI use.
type stdLogger struct {
	std *log.Logger
}

func (l stdLogger) log(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l stdLogger) Debug(msg string, args ...interface{}) { l.log(msg, args) }
func (l stdLogger) Info(msg string, args ...interface{})  { l.log(msg, args) }
func (l stdLogger) Warn(msg string, args ...interface{})  { l.log(msg, args) }
func (l stdLogger) Error(msg string, args ...interface{}) { l.log(msg, args) }
func (l stdLogger) Fatal(msg string, args ...interface{}) { l.log(msg, args); l.std.Fatal(msg) }
