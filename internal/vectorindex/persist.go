package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is the version of the LSVX layout written by WriteTo.
const FormatVersion = 1

var magic = [4]byte{'L', 'S', 'V', 'X'}

// ErrBadFormat is returned when a stream is not a readable LSVX index.
var ErrBadFormat = errors.New("not an LSVX index")

// header precedes the rows of every serialized index.
type header struct {
	Magic   [4]byte
	Version uint16
	Backend uint8
	_       uint8
	Dim     uint32
	NextID  uint32
	Count   uint32
}

func backendCode(b Backend) uint8 {
	if b == BackendHNSW {
		return 1
	}
	return 0
}

// countingWriter tracks the compressed bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// encoder writes a zstd-compressed LSVX stream, remembering the first error.
type encoder struct {
	cw  *countingWriter
	zw  *zstd.Encoder
	err error
}

func newEncoder(w io.Writer, h header) *encoder {
	cw := &countingWriter{w: w}
	e := &encoder{cw: cw}
	e.zw, e.err = zstd.NewWriter(cw)
	if e.err != nil {
		return e
	}
	h.Magic = magic
	h.Version = FormatVersion
	e.write(h)
	return e
}

func (e *encoder) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.zw, binary.LittleEndian, v)
}

func (e *encoder) row(id uint32, vec []float32) {
	e.write(id)
	e.write(vec)
}

// raw hands the underlying compressed stream to fn.
func (e *encoder) raw(fn func(io.Writer) error) {
	if e.err != nil {
		return
	}
	e.err = fn(e.zw)
}

func (e *encoder) close() (int64, error) {
	if e.zw == nil {
		return 0, fmt.Errorf("creating zstd writer: %w", e.err)
	}
	if e.err != nil {
		e.zw.Close()
		return e.cw.n, fmt.Errorf("writing index: %w", e.err)
	}
	if err := e.zw.Close(); err != nil {
		return e.cw.n, fmt.Errorf("flushing index: %w", err)
	}
	return e.cw.n, nil
}

// Read decodes an index written by WriteTo.
func Read(r io.Reader) (Index, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	// coder/hnsw's Import needs an io.ByteReader.
	br := bufio.NewReader(zr)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadFormat, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadFormat, h.Magic[:])
	}
	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, h.Version)
	}
	if h.Dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrBadFormat)
	}

	ids := make([]uint32, h.Count)
	rows := make([]float32, int(h.Count)*int(h.Dim))
	for i := range ids {
		if err := binary.Read(br, binary.LittleEndian, &ids[i]); err != nil {
			return nil, fmt.Errorf("%w: reading row %d: %v", ErrBadFormat, i, err)
		}
		row := rows[i*int(h.Dim) : (i+1)*int(h.Dim)]
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("%w: reading row %d: %v", ErrBadFormat, i, err)
		}
	}

	switch h.Backend {
	case 0:
		f := NewFlat(int(h.Dim))
		f.nextID = h.NextID
		f.ids = ids
		f.rows = rows
		for p, id := range ids {
			f.pos[id] = p
		}
		return f, nil
	case 1:
		return readHNSW(br, h, ids, rows)
	default:
		return nil, fmt.Errorf("%w: unknown backend code %d", ErrBadFormat, h.Backend)
	}
}

// Save writes idx to path atomically via a temp file and rename.
func Save(idx Index, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	bw := bufio.NewWriter(f)
	if _, err := idx.WriteTo(bw); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("flushing index: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

// Load reads an index saved by Save.
func Load(path string) (Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	idx, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return idx, nil
}
