// Package compressor measures how many bytes a general-purpose compression
// algorithm needs to encode an input. The algorithms form a closed set that
// is selected by name; unknown names resolve to DefaultAlgorithm so that a
// typo in a deployment manifest never blocks corpus loading.
//
// Every input is encoded between two runs of zero bytes and the size of the
// guards alone is subtracted. Short texts then reach the block sizes at which
// each encoder searches for matches, and an empty input costs 0 bytes.
package compressor

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression backend.
type Algorithm int

const (
	Zstd Algorithm = iota
	Gzip
	Zlib
	Deflate
	LZ4
)

// DefaultAlgorithm is used whenever an algorithm name is not recognised.
const DefaultAlgorithm = Zstd

// ErrInvalidLevel is returned when a compression level falls outside the
// range accepted by the selected algorithm.
var ErrInvalidLevel = errors.New("invalid compression level")

func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case Zlib:
		return "zlib"
	case Deflate:
		return "deflate"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// MarshalText renders the algorithm by name.
func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText resolves a name leniently, like Resolve.
func (a *Algorithm) UnmarshalText(text []byte) error {
	*a = Resolve(string(text))
	return nil
}

// Algorithms lists every supported algorithm in declaration order.
func Algorithms() []Algorithm {
	return []Algorithm{Zstd, Gzip, Zlib, Deflate, LZ4}
}

// ParseAlgorithm matches name case-insensitively and reports whether it was
// recognised.
func ParseAlgorithm(name string) (Algorithm, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zstd":
		return Zstd, true
	case "gzip":
		return Gzip, true
	case "zlib":
		return Zlib, true
	case "deflate":
		return Deflate, true
	case "lz4":
		return LZ4, true
	default:
		return DefaultAlgorithm, false
	}
}

// Resolve is the lenient form of ParseAlgorithm.
func Resolve(name string) Algorithm {
	a, _ := ParseAlgorithm(name)
	return a
}

// LevelRange returns the inclusive level bounds accepted for a.
func LevelRange(a Algorithm) (lo, hi int) {
	switch a {
	case Zstd:
		return 1, 22
	case Gzip, Zlib, Deflate, LZ4:
		return 0, 9
	default:
		return 0, 0
	}
}

// DefaultLevel returns the level used when callers have no preference.
func DefaultLevel(a Algorithm) int {
	switch a {
	case Zstd:
		return 3
	case LZ4:
		return 0
	default:
		return 6
	}
}

// ValidateLevel rejects levels outside LevelRange. Levels are never clamped.
func ValidateLevel(a Algorithm, level int) error {
	lo, hi := LevelRange(a)
	if level < lo || level > hi {
		return fmt.Errorf("%w: %s accepts %d..%d, got %d", ErrInvalidLevel, a, lo, hi, level)
	}
	return nil
}

// CompressionError reports a backend failure while sizing one input.
type CompressionError struct {
	Algorithm Algorithm
	Err       error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%s compression failed: %v", e.Algorithm, e.Err)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Zero bytes framed around every input.
const (
	leadingGuard  = 128
	trailingGuard = 32
)

// streamEncoder is the subset shared by the gzip, zlib, flate and lz4
// writers.
type streamEncoder interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor computes compressed sizes for a fixed algorithm and level. It is
// safe for concurrent use.
type Compressor struct {
	algorithm Algorithm
	level     int

	zstdEnc  *zstd.Encoder
	pool     sync.Pool
	factory  func() (streamEncoder, error)
	baseline int
}

// New builds a Compressor. The level must satisfy ValidateLevel.
func New(a Algorithm, level int) (*Compressor, error) {
	if err := ValidateLevel(a, level); err != nil {
		return nil, err
	}
	c := &Compressor{algorithm: a, level: level}

	switch a {
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.zstdEnc = enc
		return c.withBaseline()
	case Gzip:
		c.factory = func() (streamEncoder, error) {
			return gzip.NewWriterLevel(io.Discard, level)
		}
	case Zlib:
		c.factory = func() (streamEncoder, error) {
			return zlib.NewWriterLevel(io.Discard, level)
		}
	case Deflate:
		c.factory = func() (streamEncoder, error) {
			return flate.NewWriter(io.Discard, level)
		}
	case LZ4:
		lvl := lz4Level(level)
		c.factory = func() (streamEncoder, error) {
			w := lz4.NewWriter(io.Discard)
			if err := w.Apply(
				lz4.CompressionLevelOption(lvl),
				lz4.BlockSizeOption(lz4.Block64Kb),
			); err != nil {
				return nil, err
			}
			return w, nil
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", a)
	}

	// Build one encoder up front so a bad level surfaces at construction.
	enc, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("creating %s encoder: %w", a, err)
	}
	c.pool.Put(enc)
	return c.withBaseline()
}

func (c *Compressor) withBaseline() (*Compressor, error) {
	n, err := c.encodedSize(make([]byte, leadingGuard+trailingGuard))
	if err != nil {
		return nil, fmt.Errorf("sizing %s guard: %w", c.algorithm, err)
	}
	c.baseline = n
	return c, nil
}

// Algorithm returns the configured algorithm.
func (c *Compressor) Algorithm() Algorithm { return c.algorithm }

// Level returns the configured level.
func (c *Compressor) Level() int { return c.level }

func (c *Compressor) String() string {
	return fmt.Sprintf("%s/%d", c.algorithm, c.level)
}

// CompressedSize returns the number of bytes the configured algorithm spends
// on data beyond the zero guards. The result is deterministic for a fixed
// algorithm and level.
func (c *Compressor) CompressedSize(data []byte) (int, error) {
	framed := make([]byte, leadingGuard+len(data)+trailingGuard)
	copy(framed[leadingGuard:], data)
	n, err := c.encodedSize(framed)
	if err != nil {
		return 0, err
	}
	return max(n-c.baseline, 0), nil
}

func (c *Compressor) encodedSize(data []byte) (int, error) {
	if c.zstdEnc != nil {
		return len(c.zstdEnc.EncodeAll(data, nil)), nil
	}

	enc, err := c.get()
	if err != nil {
		return 0, &CompressionError{Algorithm: c.algorithm, Err: err}
	}
	var cw countingWriter
	enc.Reset(&cw)
	if _, err := enc.Write(data); err != nil {
		return 0, &CompressionError{Algorithm: c.algorithm, Err: err}
	}
	if err := enc.Close(); err != nil {
		return 0, &CompressionError{Algorithm: c.algorithm, Err: err}
	}
	enc.Reset(io.Discard)
	c.pool.Put(enc)
	return cw.n, nil
}

func (c *Compressor) get() (streamEncoder, error) {
	if v := c.pool.Get(); v != nil {
		return v.(streamEncoder), nil
	}
	return c.factory()
}

// countingWriter discards bytes and records how many were written.
type countingWriter struct {
	n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

func lz4Level(level int) lz4.CompressionLevel {
	return lz4Levels[level]
}
