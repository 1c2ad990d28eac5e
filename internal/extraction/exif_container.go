package extraction

import (
	"bytes"
	"encoding/binary"
)

var (
	tiffLittleEndian = []byte("II*\x00")
	tiffBigEndian    = []byte("MM\x00*")
	exifHeader       = []byte("Exif\x00\x00")
	pngSignature     = []byte("\x89PNG\r\n\x1a\n")
)

// exifPayload returns the TIFF-encoded EXIF block of a HEIF/HEIC or PNG
// image. JPEG and TIFF data come back unchanged since exif.Decode reads
// those containers itself.
func exifPayload(data []byte) []byte {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		if tiff, ok := pngExif(data); ok {
			return tiff
		}
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		if tiff, ok := heifExif(data); ok {
			return tiff
		}
		// Some writers leave the Exif item out of iloc; the block is still tagged.
		if tiff, ok := scanExifHeader(data); ok {
			return tiff
		}
	}
	return data
}

func isTIFF(b []byte) bool {
	return bytes.HasPrefix(b, tiffLittleEndian) || bytes.HasPrefix(b, tiffBigEndian)
}

// fieldReader reads big-endian fields and remembers running out of input
type fieldReader struct {
	b   []byte
	bad bool
}

func (r *fieldReader) readUint(n int) uint64 {
	if r.bad || n > len(r.b) || n > 8 {
		r.bad = true
		return 0
	}
	var v uint64
	for _, c := range r.b[:n] {
		v = v<<8 | uint64(c)
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) readBytes(n int) []byte {
	if r.bad || n > len(r.b) {
		r.bad = true
		return nil
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

type bmffBox struct {
	typ  string
	body []byte
}

// bmffBoxes splits b into ISO-BMFF boxes, stopping at the first malformed one
func bmffBoxes(b []byte) []bmffBox {
	var boxes []bmffBox
	for len(b) >= 8 {
		size := uint64(binary.BigEndian.Uint32(b))
		typ := string(b[4:8])
		header := uint64(8)
		switch size {
		case 0:
			size = uint64(len(b))
		case 1:
			if len(b) < 16 {
				return boxes
			}
			size = binary.BigEndian.Uint64(b[8:16])
			header = 16
		}
		if size < header || size > uint64(len(b)) {
			return boxes
		}
		boxes = append(boxes, bmffBox{typ: typ, body: b[header:size]})
		b = b[size:]
	}
	return boxes
}

func findBox(boxes []bmffBox, typ string) ([]byte, bool) {
	for _, box := range boxes {
		if box.typ == typ {
			return box.body, true
		}
	}
	return nil, false
}

// heifExif follows meta/iinf to the Exif item and meta/iloc to its bytes
func heifExif(data []byte) ([]byte, bool) {
	meta, ok := findBox(bmffBoxes(data), "meta")
	if !ok || len(meta) < 4 {
		return nil, false
	}
	children := bmffBoxes(meta[4:]) // meta is a full box
	iinf, ok := findBox(children, "iinf")
	if !ok {
		return nil, false
	}
	iloc, ok := findBox(children, "iloc")
	if !ok {
		return nil, false
	}

	id, ok := exifItemID(iinf)
	if !ok {
		return nil, false
	}
	offset, length, ok := itemExtent(iloc, id)
	if !ok || offset >= uint64(len(data)) {
		return nil, false
	}
	end := uint64(len(data))
	if length > 0 && length < end-offset {
		end = offset + length
	}
	item := data[offset:end]

	// A 4-byte offset past itself to the TIFF header leads the item,
	// normally skipping the "Exif\0\0" marker.
	if len(item) < 4 {
		return nil, false
	}
	skip := 4 + uint64(binary.BigEndian.Uint32(item))
	if skip > uint64(len(item)) {
		return nil, false
	}
	tiff := bytes.TrimPrefix(item[skip:], exifHeader)
	return tiff, isTIFF(tiff)
}

func exifItemID(iinf []byte) (uint64, bool) {
	r := &fieldReader{b: iinf}
	version := r.readUint(1)
	r.readUint(3)
	if version == 0 {
		r.readUint(2)
	} else {
		r.readUint(4)
	}
	if r.bad {
		return 0, false
	}

	for _, infe := range bmffBoxes(r.b) {
		if infe.typ != "infe" {
			continue
		}
		ir := &fieldReader{b: infe.body}
		v := ir.readUint(1)
		ir.readUint(3)
		if v < 2 {
			continue
		}
		var id uint64
		if v == 2 {
			id = ir.readUint(2)
		} else {
			id = ir.readUint(4)
		}
		ir.readUint(2) // protection index
		itemType := ir.readBytes(4)
		if !ir.bad && string(itemType) == "Exif" {
			return id, true
		}
	}
	return 0, false
}

// itemExtent returns the file offset and length of the first extent of item id.
// Only items stored at file offsets (construction method 0) are supported.
func itemExtent(iloc []byte, id uint64) (offset, length uint64, ok bool) {
	r := &fieldReader{b: iloc}
	version := r.readUint(1)
	r.readUint(3)

	sizes := r.readUint(1)
	offsetSize, lengthSize := int(sizes>>4), int(sizes&0x0f)
	sizes = r.readUint(1)
	baseOffsetSize, indexSize := int(sizes>>4), 0
	if version == 1 || version == 2 {
		indexSize = int(sizes & 0x0f)
	}

	var count uint64
	if version < 2 {
		count = r.readUint(2)
	} else {
		count = r.readUint(4)
	}

	for i := uint64(0); i < count && !r.bad; i++ {
		var itemID uint64
		if version < 2 {
			itemID = r.readUint(2)
		} else {
			itemID = r.readUint(4)
		}
		method := uint64(0)
		if version == 1 || version == 2 {
			method = r.readUint(2) & 0x0f
		}
		r.readUint(2) // data reference index
		base := r.readUint(baseOffsetSize)

		extents := r.readUint(2)
		for e := uint64(0); e < extents && !r.bad; e++ {
			r.readUint(indexSize)
			extentOffset := r.readUint(offsetSize)
			extentLength := r.readUint(lengthSize)
			if itemID == id && e == 0 && method == 0 && !r.bad {
				return base + extentOffset, extentLength, true
			}
		}
	}
	return 0, 0, false
}

// scanExifHeader finds the first "Exif\0\0" marker followed by a TIFF header
func scanExifHeader(data []byte) ([]byte, bool) {
	for start := 0; start < len(data); {
		i := bytes.Index(data[start:], exifHeader)
		if i < 0 {
			return nil, false
		}
		tiff := data[start+i+len(exifHeader):]
		if isTIFF(tiff) {
			return tiff, true
		}
		start += i + 1
	}
	return nil, false
}

// pngExif returns the body of the eXIf chunk
func pngExif(data []byte) ([]byte, bool) {
	b := data[len(pngSignature):]
	for len(b) >= 12 {
		n := uint64(binary.BigEndian.Uint32(b))
		typ := string(b[4:8])
		if n+12 > uint64(len(b)) {
			return nil, false
		}
		switch typ {
		case "eXIf":
			return b[8 : 8+n], isTIFF(b[8 : 8+n])
		case "IEND":
			return nil, false
		}
		b = b[12+n:]
	}
	return nil, false
}
