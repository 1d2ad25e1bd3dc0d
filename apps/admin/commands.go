package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
)

func (cli *commandLine) migrate() error {
	return database.Migrate(cli.db.DB)
}

func (cli *commandLine) addUser(name, uname, email, role, pwd string) error {
	usr, err := cli.usrSvc.Create(context.Background(), user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           []string{role},
	})
	if err != nil {
		return err
	}
	fmt.Printf("user %q created (id %s)\n", usr.Email, usr.ID)
	return nil
}

func (cli *commandLine) addClass(name, teacherID string, capacity int, price, priceRef string) error {
	p, err := parsePrice(price)
	if err != nil {
		return err
	}
	cls, err := cli.schoolSvc.CreateClass(context.Background(), school.NewClass{
		Name:             name,
		TeacherID:        teacherID,
		Capacity:         capacity,
		Price:            p,
		ExternalPriceRef: priceRef,
	})
	if err != nil {
		return err
	}
	fmt.Printf("class %q created (id %s)\n", cls.Name, cls.ID)
	return nil
}

func (cli *commandLine) addEvent(name string, capacity int, price, priceRef, starts string) error {
	p, err := parsePrice(price)
	if err != nil {
		return err
	}
	var startsAt time.Time
	if starts != "" {
		if startsAt, err = time.Parse(time.RFC3339, starts); err != nil {
			return err
		}
	}
	evt, err := cli.schoolSvc.CreateEvent(context.Background(), school.NewEvent{
		Name:             name,
		Capacity:         capacity,
		Price:            p,
		ExternalPriceRef: priceRef,
		StartsAt:         startsAt,
	})
	if err != nil {
		return err
	}
	fmt.Printf("event %q created (id %s)\n", evt.Name, evt.ID)
	return nil
}

func (cli *commandLine) resetPassword(uname, pwd string) error {
	return cli.usrSvc.ResetPassword(context.Background(), uname, pwd)
}

func (cli *commandLine) sweep() error {
	n, err := cli.enrollSvc.CancelStale(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("swept %d stale pending claims\n", n)
	return nil
}

func parsePrice(price string) (decimal.NullDecimal, error) {
	if price == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
