package attendance

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Attendance statuses.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
	StatusLeave   = "leave"
)

// Record is one employee's attendance for one check in.
type Record struct {
	bun.BaseModel `bun:"table:attendance_records,alias:ar" json:"-" msgpack:"-"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	TenantID   uuid.UUID  `bun:"tenant_id,type:uuid,notnull" json:"tenant_id"`
	EmployeeID string     `bun:"employee_id,notnull" json:"employee_id"`
	Status     string     `bun:"status,notnull" json:"status"`
	CheckIn    time.Time  `bun:"check_in,notnull" json:"check_in"`
	CheckOut   *time.Time `bun:"check_out,nullzero" json:"check_out,omitempty"`
	Note       string     `bun:"note" json:"note,omitempty"`
	CreatedAt  time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt  time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

func (r Record) GetID() uuid.UUID       { return r.ID }
func (r Record) GetTenantID() uuid.UUID { return r.TenantID }

// WithTenant returns a copy of r owned by id.
func (r Record) WithTenant(id uuid.UUID) Record {
	r.TenantID = id
	return r
}

var errCheckOutBeforeCheckIn = errors.New("must not be before check_in")

// Validate checks the client supplied fields.
func (r Record) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.EmployeeID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.Status, validation.Required, validation.In(StatusPresent, StatusLate, StatusAbsent, StatusLeave)),
		validation.Field(&r.CheckIn, validation.Required),
		validation.Field(&r.CheckOut, validation.By(func(value any) error {
			out, _ := value.(*time.Time)
			if out != nil && out.Before(r.CheckIn) {
				return errCheckOutBeforeCheckIn
			}
			return nil
		})),
		validation.Field(&r.Note, validation.Length(0, 512)),
	)
}
