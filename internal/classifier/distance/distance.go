// Package distance implements the Normalized Compression Distance between
// two byte strings on top of any compressed-size oracle.
package distance

import "fmt"

// Sizer reports the compressed size of an input.
type Sizer interface {
	CompressedSize(data []byte) (int, error)
}

// NCD combines the compressed sizes of x, y and x‖y into a distance.
// Smaller is more similar. When both inputs compress to nothing the distance
// is 0.
func NCD(cx, cy, cxy int) float64 {
	lo, hi := cx, cy
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 0
	}
	return float64(cxy-lo) / float64(hi)
}

// Engine computes distances with a fixed Sizer. The concatenation is always
// the first argument followed by the second.
type Engine struct {
	sizer Sizer
}

// New returns an Engine backed by s.
func New(s Sizer) *Engine {
	return &Engine{sizer: s}
}

// Distance compresses x, y and their concatenation.
func (e *Engine) Distance(x, y []byte) (float64, error) {
	cx, err := e.sizer.CompressedSize(x)
	if err != nil {
		return 0, fmt.Errorf("sizing first input: %w", err)
	}
	cy, err := e.sizer.CompressedSize(y)
	if err != nil {
		return 0, fmt.Errorf("sizing second input: %w", err)
	}
	return e.DistanceSized(x, cx, y, cy)
}

// DistanceSized is Distance for callers that already know cx and cy. Only
// the concatenation is compressed.
func (e *Engine) DistanceSized(x []byte, cx int, y []byte, cy int) (float64, error) {
	joined := make([]byte, 0, len(x)+len(y))
	joined = append(joined, x...)
	joined = append(joined, y...)
	cxy, err := e.sizer.CompressedSize(joined)
	if err != nil {
		return 0, fmt.Errorf("sizing concatenation: %w", err)
	}
	return NCD(cx, cy, cxy), nil
}
