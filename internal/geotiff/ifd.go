package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// TIFF tags read by this package.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagSamplesPerPixel     = 277
	tagTileWidth           = 322
	tagTileLength          = 323
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndef     = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

// maxIFDEntries guards against corrupt entry counts.
const maxIFDEntries = 4096

// ifd holds the fields of the first image directory that matter for
// georeferencing.
type ifd struct {
	width, height       uint32
	tileWidth           uint32
	tileHeight          uint32
	bitsPerSample       []uint16
	samplesPerPixel     uint16
	compression         uint16
	modelPixelScale     []float64
	modelTiepoint       []float64
	modelTransformation []float64
	geoKeys             []uint16
	noData              string
}

type entry struct {
	tag, dataType uint16
	count         uint64
	value         []byte // inline bytes or the resolved external data
}

// readFirstIFD parses the TIFF or BigTIFF header and the first IFD.
func readFirstIFD(r io.ReaderAt) (*ifd, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(hdr[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte order %q", ErrNotTIFF, hdr[0:2])
	}

	var big bool
	var offset uint64
	switch bo.Uint16(hdr[2:4]) {
	case 42:
		offset = uint64(bo.Uint32(hdr[4:8]))
	case 43:
		big = true
		if _, err := r.ReadAt(hdr[8:16], 8); err != nil {
			return nil, fmt.Errorf("reading BigTIFF header: %w", err)
		}
		offset = bo.Uint64(hdr[8:16])
	default:
		return nil, fmt.Errorf("%w: magic %d", ErrNotTIFF, bo.Uint16(hdr[2:4]))
	}

	entries, err := readEntries(r, bo, offset, big)
	if err != nil {
		return nil, fmt.Errorf("IFD at offset %d: %w", offset, err)
	}

	d := &ifd{samplesPerPixel: 1}
	for _, e := range entries {
		switch e.tag {
		case tagImageWidth:
			d.width = uint32(uintAt(e, bo, 0))
		case tagImageLength:
			d.height = uint32(uintAt(e, bo, 0))
		case tagTileWidth:
			d.tileWidth = uint32(uintAt(e, bo, 0))
		case tagTileLength:
			d.tileHeight = uint32(uintAt(e, bo, 0))
		case tagBitsPerSample:
			for i := uint64(0); i < e.count; i++ {
				d.bitsPerSample = append(d.bitsPerSample, uint16(uintAt(e, bo, i)))
			}
		case tagSamplesPerPixel:
			d.samplesPerPixel = uint16(uintAt(e, bo, 0))
		case tagCompression:
			d.compression = uint16(uintAt(e, bo, 0))
		case tagModelPixelScale:
			d.modelPixelScale = floats(e, bo)
		case tagModelTiepoint:
			d.modelTiepoint = floats(e, bo)
		case tagModelTransformation:
			d.modelTransformation = floats(e, bo)
		case tagGeoKeyDirectory:
			for i := uint64(0); i < e.count; i++ {
				d.geoKeys = append(d.geoKeys, uint16(uintAt(e, bo, i)))
			}
		case tagGDALNoData:
			d.noData = trimNUL(e.value)
		}
	}
	return d, nil
}

func readEntries(r io.ReaderAt, bo binary.ByteOrder, offset uint64, big bool) ([]entry, error) {
	countSize, entrySize, inline := 2, 12, 4
	if big {
		countSize, entrySize, inline = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := r.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	var n uint64
	if big {
		n = bo.Uint64(buf)
	} else {
		n = uint64(bo.Uint16(buf))
	}
	if n > maxIFDEntries {
		return nil, fmt.Errorf("%d entries", n)
	}

	raw := make([]byte, int(n)*entrySize)
	if _, err := r.ReadAt(raw, int64(offset)+int64(countSize)); err != nil {
		return nil, err
	}

	entries := make([]entry, n)
	for i := range entries {
		b := raw[i*entrySize : (i+1)*entrySize]
		e := entry{tag: bo.Uint16(b[0:2]), dataType: bo.Uint16(b[2:4])}
		var field []byte
		if big {
			e.count = bo.Uint64(b[4:12])
			field = b[12:20]
		} else {
			e.count = uint64(bo.Uint32(b[4:8]))
			field = b[8:12]
		}

		size := e.count * uint64(typeSize(e.dataType))
		if size <= uint64(inline) {
			e.value = append([]byte(nil), field...)
		} else {
			if size > 1<<26 {
				return nil, fmt.Errorf("tag %d: %d bytes", e.tag, size)
			}
			var at uint64
			if big {
				at = bo.Uint64(field)
			} else {
				at = uint64(bo.Uint32(field))
			}
			e.value = make([]byte, size)
			if _, err := r.ReadAt(e.value, int64(at)); err != nil {
				return nil, fmt.Errorf("tag %d: %w", e.tag, err)
			}
		}
		entries[i] = e
	}
	return entries, nil
}

func typeSize(dt uint16) int {
	switch dt {
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	}
	return 1
}

// uintAt reads element i of an integer field.
func uintAt(e entry, bo binary.ByteOrder, i uint64) uint64 {
	if i >= e.count {
		return 0
	}
	switch e.dataType {
	case dtShort, dtSShort:
		return uint64(bo.Uint16(e.value[i*2:]))
	case dtLong, dtSLong:
		return uint64(bo.Uint32(e.value[i*4:]))
	case dtLong8, dtSLong8, dtIFD8:
		return bo.Uint64(e.value[i*8:])
	}
	return uint64(e.value[i])
}

func floats(e entry, bo binary.ByteOrder) []float64 {
	out := make([]float64, e.count)
	for i := range out {
		switch e.dataType {
		case dtDouble:
			out[i] = math.Float64frombits(bo.Uint64(e.value[i*8:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(bo.Uint32(e.value[i*4:])))
		default:
			out[i] = float64(uintAt(e, bo, uint64(i)))
		}
	}
	return out
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
