package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor is returned for any cursor that cannot be decoded or that
// was issued for a different sort, order or filter.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorVersion = 1

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

func ParseOrder(s string) (Order, bool) {
	switch Order(strings.ToLower(s)) {
	case Asc:
		return Asc, true
	case Desc:
		return Desc, true
	}
	return "", false
}

// Position is the last row of a page: its id and its sort value as stored in
// the cursor.
type Position struct {
	ID    uuid.UUID
	Value string
}

// cursorPayload fields are declared in lexical JSON key order so that the
// encoding is canonical.
type cursorPayload struct {
	Filter *string     `json:"filter"`
	Last   *cursorLast `json:"last"`
	Order  string      `json:"order"`
	Sort   string      `json:"sort"`
	V      int         `json:"v"`
}

type cursorLast struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// EncodeCursor encodes a resume position into an opaque base64url token.
// An empty filter is encoded as null.
func EncodeCursor(sort string, order Order, filter string, last Position) (string, error) {
	payload := cursorPayload{
		Last:  &cursorLast{ID: last.ID.String(), Value: last.Value},
		Order: string(order),
		Sort:  sort,
		V:     cursorVersion,
	}
	if filter != "" {
		payload.Filter = &filter
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a token produced by EncodeCursor and checks it against
// the parameters of the current request. Padded and unpadded tokens are both
// accepted.
func DecodeCursor(token, sort string, order Order, filter string) (Position, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return Position{}, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}

	var p cursorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Position{}, fmt.Errorf("%w: bad payload", ErrInvalidCursor)
	}
	if p.V != cursorVersion {
		return Position{}, fmt.Errorf("%w: unsupported version", ErrInvalidCursor)
	}

	var gotFilter string
	if p.Filter != nil {
		gotFilter = *p.Filter
	}
	if p.Sort != sort || p.Order != string(order) || gotFilter != filter {
		return Position{}, fmt.Errorf("%w: does not match current query", ErrInvalidCursor)
	}

	if p.Last == nil || p.Last.Value == "" {
		return Position{}, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	id, err := uuid.Parse(p.Last.ID)
	if err != nil {
		return Position{}, fmt.Errorf("%w: bad id", ErrInvalidCursor)
	}
	return Position{ID: id, Value: p.Last.Value}, nil
}

// SortKind is the semantic type of a sort column.
type SortKind int

const (
	Text SortKind = iota
	Date
	Timestamp
)

const dateLayout = "2006-01-02"

// FormatSortValue renders a typed sort value for storage in a cursor.
func FormatSortValue(kind SortKind, v any) (string, error) {
	switch kind {
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Date:
		if t, ok := v.(time.Time); ok {
			return t.Format(dateLayout), nil
		}
	case Timestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return "", fmt.Errorf("sort value %T does not match kind %d", v, kind)
}

// ParseSortValue is the inverse of FormatSortValue. Date and timestamp values
// come back in UTC.
func ParseSortValue(kind SortKind, s string) (any, error) {
	switch kind {
	case Text:
		return s, nil
	case Date:
		t, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date value", ErrInvalidCursor)
		}
		return t, nil
	case Timestamp:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp value", ErrInvalidCursor)
		}
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("%w: unknown sort kind", ErrInvalidCursor)
}

// SortField maps a public sort parameter to its column.
type SortField struct {
	Name   string
	Column string
	Kind   SortKind
}

// Sorts is the enumerated set of fields an entity can be listed by.
type Sorts []SortField

func (s Sorts) Lookup(name string) (SortField, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return SortField{}, false
}

func (s Sorts) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}
