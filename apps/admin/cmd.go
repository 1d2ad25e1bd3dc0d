package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sqlx.DB
	conf      *core.Config
	usrSvc    *user.Service
	schoolSvc *school.Service
	enrollSvc *enroll.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate                                  - apply pending database migrations")
	fmt.Println("  adduser -name NAME -email EMAIL [-role ROLE] - create a user; the password is prompted next")
	fmt.Println("  addclass -name NAME -capacity N [-price P] [-priceref REF] - create a class")
	fmt.Println("  addevent -name NAME -capacity N [-price P] [-starts RFC3339] - create an event")
	fmt.Println("  resetpassword -username USERNAME|EMAIL   - reset user's password")
	fmt.Println("  sweep                                    - cancel stale pending enrollments now")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserUname := addUserCmd.String("username", "", "The user's username (optional).")
	addUserRole := addUserCmd.String("role", user.RoleStudent, "One of: admin:, admin:owner, admin:principal, teacher:, parent:, student:")

	addClassCmd := flag.NewFlagSet("addclass", flag.ExitOnError)
	addClassName := addClassCmd.String("name", "", "The class name.")
	addClassCapacity := addClassCmd.Int("capacity", 0, "The seat capacity.")
	addClassPrice := addClassCmd.String("price", "", "The enrollment fee; empty means free.")
	addClassPriceRef := addClassCmd.String("priceref", "", "A pre-provisioned provider price id (optional).")
	addClassTeacher := addClassCmd.String("teacher", "", "The teacher's user id (optional).")

	addEventCmd := flag.NewFlagSet("addevent", flag.ExitOnError)
	addEventName := addEventCmd.String("name", "", "The event name.")
	addEventCapacity := addEventCmd.Int("capacity", 0, "The seat capacity.")
	addEventPrice := addEventCmd.String("price", "", "The registration fee; empty means free.")
	addEventPriceRef := addEventCmd.String("priceref", "", "A pre-provisioned provider price id (optional).")
	addEventStarts := addEventCmd.String("starts", "", "The start time, RFC3339 (optional).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		return cli.migrate()
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, *addUserRole, pwd)
	case "addclass":
		if err := addClassCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addClassName == "" || *addClassCapacity < 1 {
			addClassCmd.Usage()
			return errHelp
		}
		return cli.addClass(*addClassName, *addClassTeacher, *addClassCapacity, *addClassPrice, *addClassPriceRef)
	case "addevent":
		if err := addEventCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addEventName == "" || *addEventCapacity < 1 {
			addEventCmd.Usage()
			return errHelp
		}
		return cli.addEvent(*addEventName, *addEventCapacity, *addEventPrice, *addEventPriceRef, *addEventStarts)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)
	case "sweep":
		return cli.sweep()
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errHelp
	}
	return string(pwd), nil
}
