package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pspoerri/tilemesh/internal/coord"
)

// Entry is one directory record. RunLength 0 marks a leaf directory
// pointer; otherwise RunLength consecutive tile IDs share the data at
// Offset.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// zoomBase returns the first tile ID of zoom z.
func zoomBase(z int) uint64 {
	var acc uint64
	for i := 0; i < z; i++ {
		n := uint64(1) << uint(i)
		acc += n * n
	}
	return acc
}

// TileID returns the archive ID of a tile: all tiles of lower zooms
// followed by the Hilbert index within its zoom.
func TileID(t coord.TileCoordinate) uint64 {
	return zoomBase(t.Z) + coord.HilbertIndex(t)
}

// TileIDToCoordinate is the inverse of TileID.
func TileIDToCoordinate(id uint64) coord.TileCoordinate {
	var acc uint64
	z := 0
	for {
		n := uint64(1) << uint(z)
		if acc+n*n > id {
			break
		}
		acc += n * n
		z++
	}
	x, y := hilbertToXY(id-acc, uint64(1)<<uint(z))
	return coord.TileCoordinate{X: int(x), Y: int(y), Z: z}
}

func hilbertToXY(d, n uint64) (x, y uint64) {
	for s := uint64(1); s < n; s *= 2 {
		rx := 1 & (d / 2)
		ry := 1 & (d ^ rx)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
		x += s * rx
		y += s * ry
		d /= 4
	}
	return x, y
}

// findTile returns the entry covering id in a sorted directory. The result
// may be a leaf pointer.
func findTile(entries []Entry, id uint64) (Entry, bool) {
	// Last entry with TileID <= id.
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TileID > id }) - 1
	if i < 0 {
		return Entry{}, false
	}
	e := entries[i]
	if e.RunLength == 0 {
		return e, true
	}
	if id-e.TileID < uint64(e.RunLength) {
		return e, true
	}
	return Entry{}, false
}

const (
	maxRootEntries = 16384
	leafSize       = 4096
)

// buildDirectory serializes sorted, run-length encoded entries, splitting
// them into leaf directories when the root would get too large.
func buildDirectory(runs []Entry) (root, leaves []byte, err error) {
	if len(runs) <= maxRootEntries {
		root, err = serializeDirectory(runs)
		return root, nil, err
	}

	var leafBuf bytes.Buffer
	var pointers []Entry
	for i := 0; i < len(runs); i += leafSize {
		chunk := runs[i:min(i+leafSize, len(runs))]
		data, err := serializeDirectory(chunk)
		if err != nil {
			return nil, nil, err
		}
		pointers = append(pointers, Entry{
			TileID: chunk[0].TileID,
			Offset: uint64(leafBuf.Len()),
			Length: uint32(len(data)),
		})
		leafBuf.Write(data)
	}
	root, err = serializeDirectory(pointers)
	return root, leafBuf.Bytes(), err
}

// serializeDirectory encodes entries column-wise as varints and gzips the
// result. An offset of 0 means "directly after the previous entry".
func serializeDirectory(entries []Entry) ([]byte, error) {
	var raw bytes.Buffer
	buf := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		n := binary.PutUvarint(buf, v)
		raw.Write(buf[:n])
	}

	put(uint64(len(entries)))
	var lastID uint64
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}
	return compressGzip(raw.Bytes())
}

// DeserializeDirectory decodes a gzip-compressed directory.
func DeserializeDirectory(data []byte) ([]Entry, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompressing directory: %w", err)
	}

	r := bytes.NewReader(raw)
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	if n > uint64(len(raw)) {
		return nil, fmt.Errorf("entry count %d exceeds directory size", n)
	}
	entries := make([]Entry, n)

	read := func(what string, i uint64) (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("reading %s %d: %w", what, i, err)
		}
		return v, nil
	}

	var lastID uint64
	for i := range entries {
		v, err := read("tile id", uint64(i))
		if err != nil {
			return nil, err
		}
		lastID += v
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := read("run length", uint64(i))
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := read("length", uint64(i))
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := read("offset", uint64(i))
		if err != nil {
			return nil, err
		}
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// optimizeRunLengths merges consecutive tile IDs that point at the same
// data into one run.
func optimizeRunLengths(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	cur := entries[0]
	cur.RunLength = 1
	for _, e := range entries[1:] {
		if e.TileID == cur.TileID+uint64(cur.RunLength) && e.Offset == cur.Offset && e.Length == cur.Length {
			cur.RunLength++
			continue
		}
		out = append(out, cur)
		cur = e
		cur.RunLength = 1
	}
	return append(out, cur)
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
