package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Only the fields the workflow needs for
// queue display live here; the full registry is a separate system.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	HospitalID  uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	Name        string     `db:"name" json:"name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Age returns the patient's age in whole years at the given time, or 0 if
// the date of birth is unknown.
func (p *Patient) Age(at time.Time) int {
	if p.DateOfBirth == nil {
		return 0
	}
	years := at.Year() - p.DateOfBirth.Year()
	if at.YearDay() < p.DateOfBirth.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
