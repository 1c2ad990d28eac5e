package extraction

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/mileage-tracker/internal/scanning"
)

// mockRecognizer is a mock implementation of scanning.Recognizer
type mockRecognizer struct {
	mu    sync.Mutex
	text  map[string]string
	err   error
	calls int
}

func (m *mockRecognizer) Recognize(ctx context.Context, img *scanning.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.text[img.Name], nil
}

func (m *mockRecognizer) Close() error {
	return nil
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

var _ = Describe("Pipeline", func() {
	var (
		recognizer *mockRecognizer
		metadata   MapMetadata
		timeSrc    *mockTimeSource
		pipeline   *Pipeline
		img        *scanning.Image
	)

	BeforeEach(func() {
		recognizer = &mockRecognizer{text: map[string]string{
			"dash.jpg": "ODO 45230 km, year 2024",
		}}
		metadata = MapMetadata{"DateTimeOriginal": "2024:03:20 08:15:00"}
		timeSrc = &mockTimeSource{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
		img = &scanning.Image{Name: "dash.jpg", Data: []byte("fake image data"), ContentType: "image/jpeg"}
	})

	JustBeforeEach(func() {
		pipeline = NewPipelineWithDeps(recognizer, func([]byte) Metadata { return metadata }, timeSrc, time.UTC)
	})

	Describe("Extract", func() {
		var (
			candidate *Candidate
			err       error
		)

		JustBeforeEach(func() {
			candidate, err = pipeline.Extract(context.Background(), img)
		})

		When("extraction succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("uses the largest plausible figure", func() {
				Expect(candidate.Miles).To(Equal(45230))
			})

			It("dates the candidate from the metadata", func() {
				Expect(candidate.Date).To(Equal(time.Date(2024, 3, 20, 8, 15, 0, 0, time.UTC)))
			})

			It("leaves the id unset", func() {
				Expect(candidate.ID).To(BeZero())
			})

			It("keeps the diagnostics", func() {
				Expect(candidate.Candidates).To(Equal([]int{45230, 2024}))
				Expect(candidate.Text).To(Equal("ODO 45230 km, year 2024"))
			})
		})

		When("the photo has no date metadata", func() {
			BeforeEach(func() {
				metadata = MapMetadata{}
			})

			It("dates the candidate now", func() {
				Expect(candidate.Date).To(Equal(timeSrc.now))
			})
		})

		When("OCR fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("quota exhausted")
				recognizer.err = setupErr
			})

			It("returns an OCRFailedError", func() {
				Expect(err).To(MatchError(ErrOCRFailed))
				var ocrErr *OCRFailedError
				Expect(errors.As(err, &ocrErr)).To(BeTrue())
				Expect(ocrErr.Reason).To(Equal("quota exhausted"))
			})

			It("keeps the underlying error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("does not retry", func() {
				Expect(recognizer.calls).To(Equal(1))
			})
		})

		When("no mileage figure is recognized", func() {
			BeforeEach(func() {
				recognizer.text["dash.jpg"] = "FUEL 3/4"
			})

			It("returns ErrNoMileageFound", func() {
				Expect(err).To(MatchError(ErrNoMileageFound))
				Expect(candidate).To(BeNil())
			})
		})
	})

	Describe("ExtractAsync", func() {
		It("delivers exactly one result", func() {
			results := pipeline.ExtractAsync(context.Background(), img)
			var result Result
			Eventually(results).Should(Receive(&result))
			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Candidate.Miles).To(Equal(45230))
			Eventually(results).Should(BeClosed())
		})
	})

	Describe("ExtractAll", func() {
		It("returns results in input order", func() {
			recognizer.text["odo.jpg"] = "123,456"
			recognizer.text["blank.jpg"] = ""
			imgs := []*scanning.Image{
				img,
				{Name: "odo.jpg", ContentType: "image/jpeg"},
				{Name: "blank.jpg", ContentType: "image/jpeg"},
			}

			results := pipeline.ExtractAll(context.Background(), imgs, 2)
			Expect(results).To(HaveLen(3))
			Expect(results[0].Candidate.Miles).To(Equal(45230))
			Expect(results[1].Candidate.Miles).To(Equal(123456))
			Expect(results[2].Err).To(MatchError(ErrNoMileageFound))
			Expect(results[2].Image.Name).To(Equal("blank.jpg"))
		})

		It("skips recognition once the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			results := pipeline.ExtractAll(ctx, []*scanning.Image{img}, 1)
			Expect(results[0].Err).To(MatchError(context.Canceled))
			Expect(recognizer.calls).To(BeZero())
		})
	})
})
