package ledger

import (
	"errors"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

var (
	// ErrDuplicateDate is returned when a record already exists for the calendar day.
	ErrDuplicateDate = errors.New("entry for this date already exists")

	// ErrCapacityExceeded is returned when the store already holds its maximum number of records.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidRecord is returned for records that can never be stored.
	ErrInvalidRecord = errors.New("invalid entry")
)

// Record is a single odometer reading
type Record struct {
	ID    int64     `json:"id" yaml:"id"`
	Miles int       `json:"miles" yaml:"miles"`
	Date  time.Time `json:"date" yaml:"date"`
}

// Day returns the record's calendar day in loc as YYYY-MM-DD
func (r Record) Day(loc *time.Location) string {
	return r.Date.In(loc).Format(dayLayout)
}

func (r Record) validate() error {
	if r.ID != 0 {
		return fmt.Errorf("%w: id %d is already assigned", ErrInvalidRecord, r.ID)
	}
	if r.Miles < 0 {
		return fmt.Errorf("%w: miles must not be negative", ErrInvalidRecord)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidRecord)
	}
	return nil
}

// Order selects the direction records are returned in
type Order int

const (
	// DateDesc returns the newest record first.
	DateDesc Order = iota
	// DateAsc returns the oldest record first.
	DateAsc
)

// ParseOrder accepts "asc" or "desc"; an empty string means DateDesc.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "", "desc":
		return DateDesc, nil
	case "asc":
		return DateAsc, nil
	default:
		return DateDesc, fmt.Errorf("unknown order %q", s)
	}
}

func (o Order) String() string {
	if o == DateAsc {
		return "asc"
	}
	return "desc"
}
