package extraction

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	minDigits    = 3
	maxDigits    = 7
	minimumMiles = 100 // exclusive
)

// ErrNoMileageFound is returned when the text holds no plausible odometer figure.
var ErrNoMileageFound = errors.New("no plausible mileage figure found")

// digitRun matches digits with optional internal commas, e.g. "45,230"
var digitRun = regexp.MustCompile(`\d+(?:,\d+)*`)

// Mileage is the outcome of ExtractMileage.
type Mileage struct {
	Miles      int   `json:"miles"`
	Candidates []int `json:"candidates"`
}

// ExtractMileage picks the most plausible odometer reading out of OCR text.
//
// Every digit run of 3 to 7 digits worth more than 100 is a candidate and
// the largest candidate wins. Photos that show a bigger unrelated number
// (a phone number, a price) will pick that number instead.
func ExtractMileage(text string) (Mileage, error) {
	// NFKC folds the full-width digits and commas some OCR engines emit
	text = norm.NFKC.String(text)

	var candidates []int
	for _, run := range digitRun.FindAllString(text, -1) {
		for _, digits := range splitRun(run) {
			if n, ok := plausible(digits); ok {
				candidates = append(candidates, n)
			}
		}
	}

	if len(candidates) == 0 {
		return Mileage{}, ErrNoMileageFound
	}
	return Mileage{
		Miles:      slices.Max(candidates),
		Candidates: candidates,
	}, nil
}

// splitRun turns a matched run into digit strings. Well-formed thousands
// groups collapse into one number; anything else splits at the commas.
func splitRun(run string) []string {
	groups := strings.Split(run, ",")
	if len(groups) == 1 {
		return groups
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return groups
		}
	}
	if len(groups[0]) > 3 {
		return groups
	}
	return []string{strings.Join(groups, "")}
}

func plausible(digits string) (int, bool) {
	if len(digits) < minDigits || len(digits) > maxDigits {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= minimumMiles {
		return 0, false
	}
	return n, true
}
