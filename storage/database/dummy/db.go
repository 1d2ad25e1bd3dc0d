package dummydb

import (
	"sync"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

// DB is an in-memory store mirroring the SQL schema. A single lock guards all
// tables so the multi-table checkout transitions stay atomic.
type DB struct {
	sync.RWMutex

	users         map[string]*user.User
	guardianships map[string]*user.Guardianship
	classes       map[string]*school.Class
	events        map[string]*school.Event
	enrollments   map[string]*enroll.Enrollment
	registrations map[string]*enroll.EventRegistration
	payments      map[string]*billing.Payment
}

func Open() (*DB, error) {
	db := &DB{
		users:         make(map[string]*user.User),
		guardianships: make(map[string]*user.Guardianship),
		classes:       make(map[string]*school.Class),
		events:        make(map[string]*school.Event),
		enrollments:   make(map[string]*enroll.Enrollment),
		registrations: make(map[string]*enroll.EventRegistration),
		payments:      make(map[string]*billing.Payment),
	}
	return db, nil
}

// Reset empties all tables.
func (db *DB) Reset() {
	db.Lock()
	defer db.Unlock()

	db.users = make(map[string]*user.User)
	db.guardianships = make(map[string]*user.Guardianship)
	db.classes = make(map[string]*school.Class)
	db.events = make(map[string]*school.Event)
	db.enrollments = make(map[string]*enroll.Enrollment)
	db.registrations = make(map[string]*enroll.EventRegistration)
	db.payments = make(map[string]*billing.Payment)
}
