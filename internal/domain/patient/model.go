package patient

import (
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Patient maps to the patients table.
type Patient struct {
	ID          uuid.UUID
	Name        string
	DateOfBirth time.Time
	MRN         *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListItem is the list representation. MRN is only exposed on detail
// endpoints and summaries.
type ListItem struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"date_of_birth"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Detail is the single-patient representation.
type Detail struct {
	ID          uuid.UUID `json:"id"`
	MRN         *string   `json:"mrn"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"date_of_birth"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p *Patient) ToListItem() ListItem {
	return ListItem{
		ID:          p.ID,
		Name:        p.Name,
		DateOfBirth: p.DateOfBirth.Format(dateLayout),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (p *Patient) ToDetail() Detail {
	return Detail{
		ID:          p.ID,
		MRN:         p.MRN,
		Name:        p.Name,
		DateOfBirth: p.DateOfBirth.Format(dateLayout),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// sortValue returns the value of the named sort field.
func (p *Patient) sortValue(field string) any {
	switch field {
	case "name":
		return p.Name
	case "date_of_birth":
		return p.DateOfBirth
	default:
		return p.CreatedAt
	}
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// AgeOn returns whole years between the date of birth and day.
func (p *Patient) AgeOn(day time.Time) int {
	dob := p.DateOfBirth
	years := day.Year() - dob.Year()
	if day.Month() < dob.Month() || (day.Month() == dob.Month() && day.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
