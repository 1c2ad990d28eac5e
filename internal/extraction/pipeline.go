package extraction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/mileage-tracker/internal/ledger"
	"github.com/zombor/mileage-tracker/internal/scanning"
)

// ErrOCRFailed matches every *OCRFailedError.
var ErrOCRFailed = errors.New("ocr failed")

// OCRFailedError reports a recognizer failure
type OCRFailedError struct {
	Reason string
	Err    error
}

func (e *OCRFailedError) Error() string {
	return "ocr failed: " + e.Reason
}

func (e *OCRFailedError) Unwrap() []error {
	return []error{ErrOCRFailed, e.Err}
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Candidate is a record proposed from a photo. It has no ID until the
// caller inserts it.
type Candidate struct {
	ledger.Record
	Candidates []int  `json:"candidates"`
	Text       string `json:"text"`
}

// Result carries the outcome of one asynchronous extraction
type Result struct {
	Image     *scanning.Image
	Candidate *Candidate
	Err       error
}

// Pipeline turns photos into candidate records
type Pipeline struct {
	recognizer scanning.Recognizer
	metadata   func([]byte) Metadata
	timeSource TimeSource
	loc        *time.Location
}

// NewPipeline creates a Pipeline reading EXIF dates in loc
func NewPipeline(recognizer scanning.Recognizer, loc *time.Location) *Pipeline {
	return NewPipelineWithDeps(recognizer, ReadExif, defaultTimeSource{}, loc)
}

// NewPipelineWithDeps creates a Pipeline with custom dependencies for testing
func NewPipelineWithDeps(recognizer scanning.Recognizer, metadata func([]byte) Metadata, timeSrc TimeSource, loc *time.Location) *Pipeline {
	if loc == nil {
		loc = time.Local
	}
	return &Pipeline{
		recognizer: recognizer,
		metadata:   metadata,
		timeSource: timeSrc,
		loc:        loc,
	}
}

// Extract runs OCR on img and builds a candidate record. It never touches the ledger.
func (p *Pipeline) Extract(ctx context.Context, img *scanning.Image) (*Candidate, error) {
	text, err := p.recognizer.Recognize(ctx, img)
	if err != nil {
		slog.Error("Failed to recognize text",
			"name", img.Name,
			"content_type", img.ContentType,
			"file_size", len(img.Data),
			"error", err,
		)
		return nil, &OCRFailedError{Reason: err.Error(), Err: err}
	}

	mileage, err := ExtractMileage(text)
	if err != nil {
		slog.Debug("No mileage in recognized text", "name", img.Name, "text", text)
		return nil, err
	}

	date := ResolveDate(p.metadata(img.Data), p.timeSource.Now().In(p.loc), p.loc)

	return &Candidate{
		Record: ledger.Record{
			Miles: mileage.Miles,
			Date:  date,
		},
		Candidates: mileage.Candidates,
		Text:       text,
	}, nil
}

// ExtractAsync runs Extract on its own goroutine. The channel receives exactly one Result.
func (p *Pipeline) ExtractAsync(ctx context.Context, img *scanning.Image) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		candidate, err := p.Extract(ctx, img)
		out <- Result{Image: img, Candidate: candidate, Err: err}
	}()
	return out
}

// ExtractAll extracts a batch with at most limit recognitions in flight.
// Results line up with imgs; one failure does not stop the others.
func (p *Pipeline) ExtractAll(ctx context.Context, imgs []*scanning.Image, limit int) []Result {
	results := make([]Result, len(imgs))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, img := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Image: img, Err: err}
				return nil
			}
			candidate, err := p.Extract(ctx, img)
			results[i] = Result{Image: img, Candidate: candidate, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
