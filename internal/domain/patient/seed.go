package patient

import (
	"context"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// seedNamespace makes seed ids stable across runs and machines.
var seedNamespace = uuid.MustParse("3b241101-e2bb-4255-8caf-4136c566a962")

var seedPeople = []struct {
	name string
	dob  string
}{
	{"Ada Lovelace", "1815-12-10"},
	{"Alan Turing", "1912-06-23"},
	{"Grace Hopper", "1906-12-09"},
	{"Katherine Johnson", "1918-08-26"},
	{"Margaret Hamilton", "1936-08-17"},
	{"Donald Knuth", "1938-01-10"},
	{"Edsger Dijkstra", "1930-05-11"},
	{"Barbara Liskov", "1939-11-07"},
	{"Ken Thompson", "1943-02-04"},
	{"Dennis Ritchie", "1941-09-09"},
	{"Linus Torvalds", "1969-12-28"},
	{"Tim Berners-Lee", "1955-06-08"},
	{"Guido van Rossum", "1956-01-31"},
	{"James Gosling", "1955-05-19"},
	{"Bjarne Stroustrup", "1950-12-30"},
}

// SeedPatients returns the development data set. Ids are UUIDv5 of the name
// and MRNs are derived from the id, so nothing in the MRN encodes PHI.
func SeedPatients() []*Patient {
	out := make([]*Patient, 0, len(seedPeople))
	for _, sp := range seedPeople {
		dob, err := time.ParseInLocation(dateLayout, sp.dob, time.UTC)
		if err != nil {
			panic(fmt.Sprintf("bad seed date %q: %v", sp.dob, err))
		}
		id := uuid.NewSHA1(seedNamespace, []byte(sp.name))
		mrn := seedMRN(id)
		out = append(out, &Patient{ID: id, Name: sp.name, DateOfBirth: dob, MRN: &mrn})
	}
	return out
}

func seedMRN(id uuid.UUID) string {
	return "MRN-" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
}

// SeedIfEmpty inserts the development patients when the table has no rows.
// It returns how many were inserted.
func (s *Service) SeedIfEmpty(ctx context.Context) (int, error) {
	total, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if total > 0 {
		s.logger.Info().Int("existing", total).Msg("seed skipped: patients table is not empty")
		return 0, nil
	}

	people := SeedPatients()
	for _, p := range people {
		if err := s.repo.Create(ctx, p); err != nil {
			return 0, fmt.Errorf("seed %s: %w", p.ID, err)
		}
	}
	return len(people), nil
}
