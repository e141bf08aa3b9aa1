package pmtiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// ErrFinalized is returned when a finalized writer is used again.
var ErrFinalized = errors.New("pmtiles: writer already finalized")

type blob struct {
	offset uint64
	length uint32
}

// Writer assembles an archive in two passes. Tile payloads are appended to
// a spill file as they arrive; Finalize sorts them into tile ID order and
// writes header, directories, metadata and data. Identical payloads are
// stored once.
type Writer struct {
	path   string
	opts   WriterOptions
	header Header

	mu        sync.Mutex
	spill     *os.File
	spillDir  string
	spillSize uint64
	entries   []Entry
	seen      map[uint64]blob // FNV-64a of payload -> first copy
	reused    int
	finalized bool
}

// NewWriter creates the spill file next to path unless opts.TempDir is set.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	dir := opts.TempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	f, err := os.CreateTemp(dir, "tilemesh-*.spill")
	if err != nil {
		return nil, fmt.Errorf("creating spill file: %w", err)
	}
	return &Writer{
		path:     path,
		opts:     opts,
		header:   NewHeader(opts),
		spill:    f,
		spillDir: dir,
		seen:     make(map[uint64]blob),
	}, nil
}

func payloadHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// WriteTile adds a tile. Empty payloads are skipped. Safe for concurrent use.
func (w *Writer) WriteTile(t coord.TileCoordinate, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !t.IsNormalized() {
		return fmt.Errorf("pmtiles: tile %s outside its zoom level", t)
	}
	id := TileID(t)
	sum := payloadHash(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}

	if b, ok := w.seen[sum]; ok && b.length == uint32(len(data)) {
		w.entries = append(w.entries, Entry{TileID: id, Offset: b.offset, Length: b.length, RunLength: 1})
		w.reused++
		return nil
	}

	n, err := w.spill.Write(data)
	if err != nil {
		return fmt.Errorf("writing tile %s: %w", t, err)
	}
	b := blob{offset: w.spillSize, length: uint32(n)}
	w.spillSize += uint64(n)
	w.seen[sum] = b
	w.entries = append(w.entries, Entry{TileID: id, Offset: b.offset, Length: b.length, RunLength: 1})
	return nil
}

// Stats reports how many tiles were written and how many reused an earlier
// payload.
func (w *Writer) Stats() (tiles, reused int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries), w.reused
}

// Finalize writes the archive and removes the spill file.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true
	defer w.removeSpill()

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].TileID < w.entries[j].TileID })
	for i := 1; i < len(w.entries); i++ {
		if w.entries[i].TileID == w.entries[i-1].TileID {
			return fmt.Errorf("pmtiles: tile %s written twice", TileIDToCoordinate(w.entries[i].TileID))
		}
	}
	if err := w.cluster(); err != nil {
		return fmt.Errorf("clustering tile data: %w", err)
	}

	runs := optimizeRunLengths(w.entries)
	root, leaves, err := buildDirectory(runs)
	if err != nil {
		return fmt.Errorf("building directory: %w", err)
	}
	meta, err := compressGzip(w.metadata())
	if err != nil {
		return fmt.Errorf("compressing metadata: %w", err)
	}

	// Header, root directory, metadata, leaf directories, tile data.
	h := &w.header
	h.RootDirOffset = HeaderSize
	h.RootDirLength = uint64(len(root))
	h.MetadataOffset = h.RootDirOffset + h.RootDirLength
	h.MetadataLength = uint64(len(meta))
	h.LeafDirOffset = h.MetadataOffset + h.MetadataLength
	h.LeafDirLength = uint64(len(leaves))
	h.TileDataOffset = h.LeafDirOffset + h.LeafDirLength
	h.TileDataLength = w.spillSize
	h.NumAddressedTiles = uint64(len(w.entries))
	h.NumTileEntries = uint64(len(runs))
	h.NumTileContents = uint64(len(w.entries) - w.reused)

	out, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", w.path, err)
	}
	for _, part := range [][]byte{h.Serialize(), root, meta, leaves} {
		if _, err := out.Write(part); err != nil {
			out.Close()
			return fmt.Errorf("writing %s: %w", w.path, err)
		}
	}
	if _, err := w.spill.Seek(0, io.SeekStart); err != nil {
		out.Close()
		return fmt.Errorf("rewinding spill file: %w", err)
	}
	if _, err := io.Copy(out, w.spill); err != nil {
		out.Close()
		return fmt.Errorf("copying tile data: %w", err)
	}
	return out.Close()
}

// cluster rewrites the spill file in tile ID order. Shared payloads are
// copied once and every entry referencing them is remapped.
func (w *Writer) cluster() error {
	next, err := os.CreateTemp(w.spillDir, "tilemesh-*.clustered")
	if err != nil {
		return err
	}

	buf := make([]byte, 256*1024)
	moved := make(map[uint64]uint64) // old offset -> new offset
	var size uint64
	for i := range w.entries {
		e := &w.entries[i]
		if off, ok := moved[e.Offset]; ok {
			e.Offset = off
			continue
		}
		n := int(e.Length)
		if n > len(buf) {
			buf = make([]byte, n)
		}
		if _, err := w.spill.ReadAt(buf[:n], int64(e.Offset)); err != nil {
			next.Close()
			os.Remove(next.Name())
			return fmt.Errorf("reading tile at offset %d: %w", e.Offset, err)
		}
		if _, err := next.Write(buf[:n]); err != nil {
			next.Close()
			os.Remove(next.Name())
			return err
		}
		moved[e.Offset] = size
		e.Offset = size
		size += uint64(n)
	}

	w.removeSpill()
	w.spill = next
	w.spillSize = size
	return nil
}

func (w *Writer) removeSpill() {
	if w.spill == nil {
		return
	}
	name := w.spill.Name()
	w.spill.Close()
	os.Remove(name)
	w.spill = nil
}

// Abort discards everything written so far.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	w.removeSpill()
}

func (w *Writer) metadata() []byte {
	name := w.opts.Name
	if name == "" {
		name = "tilemesh"
	}
	b := w.opts.Bounds
	c := b.Center()
	meta := map[string]any{
		"name":    name,
		"format":  TileTypeName(w.opts.TileType),
		"type":    "baselayer",
		"minzoom": strconv.Itoa(w.opts.MinZoom),
		"maxzoom": strconv.Itoa(w.opts.MaxZoom),
		"bounds":  fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()),
		"center":  fmt.Sprintf("%.6f,%.6f,%d", c.X(), c.Y(), (w.opts.MinZoom+w.opts.MaxZoom)/2),
	}
	if w.opts.Description != "" {
		meta["description"] = w.opts.Description
	}
	if w.opts.Attribution != "" {
		meta["attribution"] = w.opts.Attribution
	}
	data, _ := json.Marshal(meta)
	return data
}
