// Package pmtiles reads and writes PMTiles v3 single-file tile archives.
package pmtiles

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// HeaderSize is the fixed length of a v3 header.
const HeaderSize = 127

// Directory and tile compression.
const (
	CompressionUnknown = 0
	CompressionNone    = 1
	CompressionGzip    = 2
	CompressionBrotli  = 3
	CompressionZstd    = 4
)

// Tile types.
const (
	TileTypeUnknown = 0
	TileTypeMVT     = 1
	TileTypePNG     = 2
	TileTypeJPEG    = 3
	TileTypeWebP    = 4
)

// ErrInvalidHeader is returned for data that is not a v3 archive header.
var ErrInvalidHeader = errors.New("pmtiles: invalid header")

// Header is the PMTiles v3 header.
type Header struct {
	RootDirOffset       uint64
	RootDirLength       uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirOffset       uint64
	LeafDirLength       uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	NumAddressedTiles   uint64
	NumTileEntries      uint64
	NumTileContents     uint64
	Clustered           bool
	InternalCompression uint8
	TileCompression     uint8
	TileType            uint8
	MinZoom             uint8
	MaxZoom             uint8
	MinLon              float64
	MinLat              float64
	MaxLon              float64
	MaxLat              float64
	CenterZoom          uint8
	CenterLon           float64
	CenterLat           float64
}

// NewHeader fills the descriptive fields from writer options.
func NewHeader(opts WriterOptions) Header {
	center := opts.Bounds.Center()
	return Header{
		Clustered:           true,
		InternalCompression: CompressionGzip,
		TileCompression:     CompressionNone, // raster payloads are already compressed
		TileType:            opts.TileType,
		MinZoom:             uint8(opts.MinZoom),
		MaxZoom:             uint8(opts.MaxZoom),
		MinLon:              opts.Bounds.Min.X(),
		MinLat:              opts.Bounds.Min.Y(),
		MaxLon:              opts.Bounds.Max.X(),
		MaxLat:              opts.Bounds.Max.Y(),
		CenterZoom:          uint8((opts.MinZoom + opts.MaxZoom) / 2),
		CenterLon:           center.X(),
		CenterLat:           center.Y(),
	}
}

// Bounds returns the archive extent.
func (h Header) Bounds() orb.Bound {
	return orb.Bound{Min: orb.Point{h.MinLon, h.MinLat}, Max: orb.Point{h.MaxLon, h.MaxLat}}
}

// Format names the tile type as used in metadata and HTTP content types.
func (h Header) Format() string {
	return TileTypeName(h.TileType)
}

// Serialize encodes the 127-byte header.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:7], "PMTiles")
	buf[7] = 3

	le := binary.LittleEndian
	le.PutUint64(buf[8:16], h.RootDirOffset)
	le.PutUint64(buf[16:24], h.RootDirLength)
	le.PutUint64(buf[24:32], h.MetadataOffset)
	le.PutUint64(buf[32:40], h.MetadataLength)
	le.PutUint64(buf[40:48], h.LeafDirOffset)
	le.PutUint64(buf[48:56], h.LeafDirLength)
	le.PutUint64(buf[56:64], h.TileDataOffset)
	le.PutUint64(buf[64:72], h.TileDataLength)
	le.PutUint64(buf[72:80], h.NumAddressedTiles)
	le.PutUint64(buf[80:88], h.NumTileEntries)
	le.PutUint64(buf[88:96], h.NumTileContents)
	if h.Clustered {
		buf[96] = 1
	}
	buf[97] = h.InternalCompression
	buf[98] = h.TileCompression
	buf[99] = h.TileType
	buf[100] = h.MinZoom
	buf[101] = h.MaxZoom
	le.PutUint32(buf[102:106], toE7(h.MinLon))
	le.PutUint32(buf[106:110], toE7(h.MinLat))
	le.PutUint32(buf[110:114], toE7(h.MaxLon))
	le.PutUint32(buf[114:118], toE7(h.MaxLat))
	buf[118] = h.CenterZoom
	le.PutUint32(buf[119:123], toE7(h.CenterLon))
	le.PutUint32(buf[123:127], toE7(h.CenterLat))
	return buf
}

// DeserializeHeader decodes a v3 header.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(buf))
	}
	if string(buf[0:7]) != "PMTiles" {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	if buf[7] != 3 {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, buf[7])
	}

	le := binary.LittleEndian
	return Header{
		RootDirOffset:       le.Uint64(buf[8:16]),
		RootDirLength:       le.Uint64(buf[16:24]),
		MetadataOffset:      le.Uint64(buf[24:32]),
		MetadataLength:      le.Uint64(buf[32:40]),
		LeafDirOffset:       le.Uint64(buf[40:48]),
		LeafDirLength:       le.Uint64(buf[48:56]),
		TileDataOffset:      le.Uint64(buf[56:64]),
		TileDataLength:      le.Uint64(buf[64:72]),
		NumAddressedTiles:   le.Uint64(buf[72:80]),
		NumTileEntries:      le.Uint64(buf[80:88]),
		NumTileContents:     le.Uint64(buf[88:96]),
		Clustered:           buf[96] == 1,
		InternalCompression: buf[97],
		TileCompression:     buf[98],
		TileType:            buf[99],
		MinZoom:             buf[100],
		MaxZoom:             buf[101],
		MinLon:              fromE7(le.Uint32(buf[102:106])),
		MinLat:              fromE7(le.Uint32(buf[106:110])),
		MaxLon:              fromE7(le.Uint32(buf[110:114])),
		MaxLat:              fromE7(le.Uint32(buf[114:118])),
		CenterZoom:          buf[118],
		CenterLon:           fromE7(le.Uint32(buf[119:123])),
		CenterLat:           fromE7(le.Uint32(buf[123:127])),
	}, nil
}

func toE7(v float64) uint32 {
	return uint32(int32(math.Round(v * 1e7)))
}

func fromE7(v uint32) float64 {
	return float64(int32(v)) / 1e7
}

// TileTypeName maps a tile type to its format name.
func TileTypeName(t uint8) string {
	switch t {
	case TileTypeMVT:
		return "pbf"
	case TileTypePNG:
		return "png"
	case TileTypeJPEG:
		return "jpeg"
	case TileTypeWebP:
		return "webp"
	}
	return "unknown"
}

// TileTypeForFormat is the inverse of TileTypeName; "jpg" is accepted.
func TileTypeForFormat(format string) uint8 {
	switch format {
	case "pbf", "mvt":
		return TileTypeMVT
	case "png":
		return TileTypePNG
	case "jpeg", "jpg":
		return TileTypeJPEG
	case "webp":
		return TileTypeWebP
	}
	return TileTypeUnknown
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	MinZoom     int
	MaxZoom     int
	Bounds      orb.Bound
	TileType    uint8
	Name        string
	Description string
	Attribution string
	// TempDir holds the spill file; defaults to the output directory.
	TempDir string
}
