package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// maxDirectoryDepth bounds leaf directory nesting on lookup.
const maxDirectoryDepth = 4

// Reader provides random access to a PMTiles v3 archive. Leaf directories
// are loaded on first use and kept. It is safe for concurrent use.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	header Header
	root   []Entry

	mu     sync.Mutex
	leaves map[uint64][]Entry // leaf offset -> entries
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	rd, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rd.closer = f
	return rd, nil
}

// NewReader reads the header and root directory from r.
func NewReader(r io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h, err := DeserializeHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.InternalCompression != CompressionGzip {
		return nil, fmt.Errorf("pmtiles: unsupported directory compression %d", h.InternalCompression)
	}

	data := make([]byte, h.RootDirLength)
	if _, err := r.ReadAt(data, int64(h.RootDirOffset)); err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}
	root, err := DeserializeDirectory(data)
	if err != nil {
		return nil, fmt.Errorf("parsing root directory: %w", err)
	}
	return &Reader{r: r, header: h, root: root, leaves: make(map[uint64][]Entry)}, nil
}

// Header returns the archive header.
func (r *Reader) Header() Header {
	return r.header
}

// Tile returns the data of tile t. ok is false when the archive does not
// contain the tile.
func (r *Reader) Tile(t coord.TileCoordinate) (data []byte, ok bool, err error) {
	if !t.IsNormalized() {
		return nil, false, nil
	}
	id := TileID(t)

	dir := r.root
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		e, found := findTile(dir, id)
		if !found {
			return nil, false, nil
		}
		if e.RunLength > 0 {
			data = make([]byte, e.Length)
			if _, err := r.r.ReadAt(data, int64(r.header.TileDataOffset+e.Offset)); err != nil {
				return nil, false, fmt.Errorf("reading tile %s: %w", t, err)
			}
			return data, true, nil
		}
		if dir, err = r.leaf(e); err != nil {
			return nil, false, err
		}
	}
	return nil, false, errors.New("pmtiles: leaf directories nested too deep")
}

func (r *Reader) leaf(e Entry) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entries, ok := r.leaves[e.Offset]; ok {
		return entries, nil
	}
	data := make([]byte, e.Length)
	off := int64(r.header.LeafDirOffset + e.Offset)
	if _, err := r.r.ReadAt(data, off); err != nil {
		return nil, fmt.Errorf("reading leaf directory at offset %d: %w", off, err)
	}
	entries, err := DeserializeDirectory(data)
	if err != nil {
		return nil, fmt.Errorf("parsing leaf directory at offset %d: %w", off, err)
	}
	r.leaves[e.Offset] = entries
	return entries, nil
}

// Metadata decodes the JSON metadata section.
func (r *Reader) Metadata() (map[string]any, error) {
	if r.header.MetadataLength == 0 {
		return map[string]any{}, nil
	}
	data := make([]byte, r.header.MetadataLength)
	if _, err := r.r.ReadAt(data, int64(r.header.MetadataOffset)); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("metadata gzip: %w", err)
	}
	defer gr.Close()

	var meta map[string]any
	if err := json.NewDecoder(gr).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return meta, nil
}

// Close closes the underlying file when the reader was created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
