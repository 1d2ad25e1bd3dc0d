package school

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

// Class is a course offering with a bounded number of seats.
// CurrentCount is a denormalized counter: it is only ever moved through the
// repository's atomic increment/decrement operations, never read-modify-write.
type Class struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Description  string `json:"description" db:"description"`
	TeacherID    string `json:"teacher_id" db:"teacher_id"`
	Capacity     int    `json:"capacity" db:"capacity"`
	CurrentCount int    `json:"current_count" db:"current_count"`
	// Price is the enrollment fee; null or <= 0 means the class is free.
	Price decimal.NullDecimal `json:"price" db:"price"`
	// ExternalPriceRef points to a pre-provisioned price object at the
	// payment provider; when set, checkout sessions bill against it instead
	// of Price.
	ExternalPriceRef string    `json:"external_price_ref,omitempty" db:"external_price_ref"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

func (c Class) Free() bool    { return !c.Price.Valid || c.Price.Decimal.Sign() <= 0 }
func (c Class) HasRoom() bool { return c.CurrentCount < c.Capacity }

// Event mirrors Class for one-off happenings (trips, fairs, ceremonies).
type Event struct {
	ID               string              `json:"id" db:"id"`
	Name             string              `json:"name" db:"name"`
	Description      string              `json:"description" db:"description"`
	Capacity         int                 `json:"capacity" db:"capacity"`
	CurrentCount     int                 `json:"current_count" db:"current_count"`
	Price            decimal.NullDecimal `json:"price" db:"price"`
	ExternalPriceRef string              `json:"external_price_ref,omitempty" db:"external_price_ref"`
	IsActive         bool                `json:"is_active" db:"is_active"`
	StartsAt         time.Time           `json:"starts_at" db:"starts_at"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"`
}

func (e Event) Free() bool    { return !e.Price.Valid || e.Price.Decimal.Sign() <= 0 }
func (e Event) HasRoom() bool { return e.CurrentCount < e.Capacity }

// NewClass contains information needed to create a new Class.
type NewClass struct {
	Name             string              `json:"name" validate:"required"`
	Description      string              `json:"description"`
	TeacherID        string              `json:"teacher_id"`
	Capacity         int                 `json:"capacity" validate:"required,min=1"`
	Price            decimal.NullDecimal `json:"price" validate:"omitempty,gte=0"`
	ExternalPriceRef string              `json:"external_price_ref"`
}

func (nc *NewClass) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	return validate.Struct(nc)
}

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Name             string              `json:"name" validate:"required"`
	Description      string              `json:"description"`
	Capacity         int                 `json:"capacity" validate:"required,min=1"`
	Price            decimal.NullDecimal `json:"price" validate:"omitempty,gte=0"`
	ExternalPriceRef string              `json:"external_price_ref"`
	StartsAt         time.Time           `json:"starts_at"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.Name = core.CleanString(ne.Name)
	return validate.Struct(ne)
}
