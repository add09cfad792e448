package distance

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/compressor"
)

// lenSizer treats every byte as incompressible.
type lenSizer struct {
	calls int
}

func (s *lenSizer) CompressedSize(data []byte) (int, error) {
	s.calls++
	return len(data), nil
}

type failingSizer struct {
	failOn int
	calls  int
}

func (s *failingSizer) CompressedSize(data []byte) (int, error) {
	s.calls++
	if s.calls == s.failOn {
		return 0, errors.New("backend exhausted")
	}
	return len(data), nil
}

func TestNCD(t *testing.T) {
	tests := []struct {
		name        string
		cx, cy, cxy int
		expected    float64
	}{
		{"BothEmpty", 0, 0, 0, 0},
		{"Identical", 10, 10, 10, 0},
		{"Disjoint", 10, 10, 20, 1},
		{"Asymmetric", 4, 8, 10, 0.75},
		{"OrderIndependentBounds", 8, 4, 10, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NCD(tt.cx, tt.cy, tt.cxy), 1e-9)
		})
	}
}

func TestDistanceEmptyInputs(t *testing.T) {
	s := &lenSizer{}
	d, err := New(s).Distance(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
	assert.Equal(t, 3, s.calls)
}

func TestDistanceSizedCompressesOnlyConcatenation(t *testing.T) {
	s := &lenSizer{}
	d, err := New(s).DistanceSized([]byte("abcd"), 4, []byte("efgh"), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, s.calls)
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestDistancePropagatesSizerFailure(t *testing.T) {
	for failOn := 1; failOn <= 3; failOn++ {
		s := &failingSizer{failOn: failOn}
		_, err := New(s).Distance([]byte("x"), []byte("y"))
		require.Error(t, err, "failure on call %d", failOn)
		assert.Contains(t, err.Error(), "backend exhausted")
	}
}

func TestSelfDistanceIsSmall(t *testing.T) {
	text := []byte("the cat sat on the mat while the dog ran in the park")
	for _, a := range compressor.Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := compressor.New(a, compressor.DefaultLevel(a))
			require.NoError(t, err)
			e := New(c)

			self, err := e.Distance(text, text)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, self, 0.0)

			other, err := e.Distance(text, []byte(strings.Repeat("stock market fell ", 3)))
			require.NoError(t, err)
			assert.Less(t, self, other)

			empty, err := e.Distance(nil, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, empty, self)
		})
	}
}

func TestShortTextSelfDistance(t *testing.T) {
	x := []byte("cat sat on the mat")
	y := []byte("stock market fell")
	require.Less(t, len(x), 20)
	require.Less(t, len(y), 20)
	for _, a := range compressor.Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := compressor.New(a, compressor.DefaultLevel(a))
			require.NoError(t, err)
			e := New(c)

			xx, err := e.Distance(x, x)
			require.NoError(t, err)
			xy, err := e.Distance(x, y)
			require.NoError(t, err)
			assert.Less(t, xx, xy)

			yy, err := e.Distance(y, y)
			require.NoError(t, err)
			yx, err := e.Distance(y, x)
			require.NoError(t, err)
			assert.Less(t, yy, yx)
		})
	}
}
