package extraction

import (
	"bytes"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata exposes image metadata tags by name. Absent tags report false.
type Metadata interface {
	Tag(name string) (string, bool)
}

type dateTag struct {
	name   string
	layout string
}

// dateTags are tried in order: capture time, modification time, GPS date
var dateTags = []dateTag{
	{name: string(exif.DateTimeOriginal), layout: "2006:01:02 15:04:05"},
	{name: string(exif.DateTime), layout: "2006:01:02 15:04:05"},
	{name: string(exif.GPSDateStamp), layout: "2006:01:02"},
}

// ResolveDate returns when the photo was most likely taken. It never fails:
// without a parseable date tag it returns now.
func ResolveDate(md Metadata, now time.Time, loc *time.Location) time.Time {
	if md == nil {
		return now
	}
	for _, tag := range dateTags {
		value, ok := md.Tag(tag.name)
		if !ok {
			continue
		}
		if t, err := time.ParseInLocation(tag.layout, value, loc); err == nil {
			return t
		}
	}
	return now
}

// exifMetadata serves tags from decoded EXIF data
type exifMetadata struct {
	x *exif.Exif
}

// noMetadata stands in for images without readable EXIF
type noMetadata struct{}

func (noMetadata) Tag(string) (string, bool) { return "", false }

// ReadExif decodes the EXIF block of a JPEG, TIFF, HEIF/HEIC or PNG image. Images without
// EXIF, or with a corrupt block, yield Metadata that has no tags.
func ReadExif(data []byte) (md Metadata) {
	defer func() {
		if recover() != nil {
			md = noMetadata{}
		}
	}()

	x, err := exif.Decode(bytes.NewReader(exifPayload(data)))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return noMetadata{}
	}
	return exifMetadata{x: x}
}

func (m exifMetadata) Tag(name string) (string, bool) {
	tag, err := m.x.Get(exif.FieldName(name))
	if err != nil {
		return "", false
	}
	value, err := tag.StringVal()
	if err != nil {
		return "", false
	}
	value = strings.TrimSpace(strings.TrimRight(value, "\x00"))
	return value, value != ""
}

// MapMetadata is Metadata backed by a map
type MapMetadata map[string]string

func (m MapMetadata) Tag(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}
