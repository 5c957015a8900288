package patient

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

const maxMRNLength = 50

var mrnEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NormalizeMRN trims surrounding whitespace and checks the format. Case is
// preserved. A blank value normalizes to "" with no error.
func NormalizeMRN(raw string) (string, error) {
	mrn := strings.TrimSpace(raw)
	if mrn == "" {
		return "", nil
	}
	if len(mrn) > maxMRNLength || !validMRNChars(mrn) {
		return "", invalid("MRN must be at most 50 characters and contain only letters, digits, or '-'.")
	}
	return mrn, nil
}

func validMRNChars(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// GenerateMRN returns prefix followed by 13 base32 characters derived from 64
// random bits. Nothing about the patient is encoded in it.
func GenerateMRN(prefix string) (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return prefix + mrnEncoding.EncodeToString(b[:]), nil
}
