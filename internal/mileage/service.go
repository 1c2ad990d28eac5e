package mileage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/mileage-tracker/internal/extraction"
	"github.com/zombor/mileage-tracker/internal/ledger"
	"github.com/zombor/mileage-tracker/internal/scanning"
)

const dateLayout = "2006-01-02"

// Extractor proposes candidate records from photos
type Extractor interface {
	Extract(ctx context.Context, img *scanning.Image) (*extraction.Candidate, error)
	ExtractAsync(ctx context.Context, img *scanning.Image) <-chan extraction.Result
}

// Service is the caller-facing API over the ledger and the extraction pipeline
type Service struct {
	store     *ledger.Store
	extractor Extractor
}

// NewService creates a new Service
func NewService(store *ledger.Store, extractor Extractor) *Service {
	return &Service{
		store:     store,
		extractor: extractor,
	}
}

// Insert commits a record to the ledger
func (s *Service) Insert(ctx context.Context, record ledger.Record) (ledger.Record, error) {
	stored, err := s.store.Insert(ctx, record)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("inserting entry: %w", err)
	}
	return stored, nil
}

// AddEntry parses manually typed values and commits them
func (s *Service) AddEntry(ctx context.Context, milesText, dateText string) (ledger.Record, error) {
	record, err := s.ParseEntry(milesText, dateText)
	if err != nil {
		return ledger.Record{}, err
	}
	return s.Insert(ctx, record)
}

// ParseEntry turns form values into a record. The date may be YYYY-MM-DD
// (read in the ledger's time zone) or RFC 3339.
func (s *Service) ParseEntry(milesText, dateText string) (ledger.Record, error) {
	milesText = strings.TrimSpace(milesText)
	dateText = strings.TrimSpace(dateText)
	if milesText == "" || dateText == "" {
		return ledger.Record{}, fmt.Errorf("%w: please enter both miles and date", ledger.ErrInvalidRecord)
	}

	miles, err := strconv.Atoi(strings.ReplaceAll(milesText, ",", ""))
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%w: invalid input format: miles %q", ledger.ErrInvalidRecord, milesText)
	}

	date, err := time.ParseInLocation(dateLayout, dateText, s.store.Location())
	if err != nil {
		date, err = time.Parse(time.RFC3339Nano, dateText)
		if err != nil {
			return ledger.Record{}, fmt.Errorf("%w: invalid input format: date %q", ledger.ErrInvalidRecord, dateText)
		}
	}

	return ledger.Record{Miles: miles, Date: date}, nil
}

// Delete removes a record by ID
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Entries returns every record in the given order
func (s *Service) Entries(order ledger.Order) []ledger.Record {
	return s.store.Query(order)
}

// Summary describes the ledger
func (s *Service) Summary() ledger.Summary {
	return s.store.Summary()
}

// Subscribe streams full snapshots of the ledger
func (s *Service) Subscribe(ctx context.Context) *ledger.Subscription {
	return s.store.Subscribe(ctx)
}

// Extract proposes a candidate record from a photo without storing it
func (s *Service) Extract(ctx context.Context, img *scanning.Image) (*extraction.Candidate, error) {
	candidate, err := s.extractor.Extract(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extracting mileage: %w", err)
	}
	return candidate, nil
}

// ExtractAsync runs Extract in the background
func (s *Service) ExtractAsync(ctx context.Context, img *scanning.Image) <-chan extraction.Result {
	return s.extractor.ExtractAsync(ctx, img)
}
