package compressor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Algorithm
		known bool
	}{
		{"Zstd", "zstd", Zstd, true},
		{"GzipUpper", "GZIP", Gzip, true},
		{"ZlibPadded", "  zlib ", Zlib, true},
		{"Deflate", "Deflate", Deflate, true},
		{"LZ4", "lz4", LZ4, true},
		{"Typo", "zsdt", DefaultAlgorithm, false},
		{"Empty", "", DefaultAlgorithm, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := ParseAlgorithm(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	assert.Equal(t, Zstd, Resolve("brotli"))
	assert.Equal(t, Gzip, Resolve("gzip"))
}

func TestAlgorithmString(t *testing.T) {
	for _, a := range Algorithms() {
		parsed, ok := ParseAlgorithm(a.String())
		require.True(t, ok, a.String())
		assert.Equal(t, a, parsed)
	}
	assert.Equal(t, "unknown(42)", Algorithm(42).String())
}

func TestValidateLevel(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		level     int
		ok        bool
	}{
		{Zstd, 1, true},
		{Zstd, 22, true},
		{Zstd, 0, false},
		{Zstd, 23, false},
		{Gzip, 0, true},
		{Gzip, 9, true},
		{Gzip, 10, false},
		{Zlib, -1, false},
		{Deflate, 6, true},
		{LZ4, 9, true},
		{LZ4, 12, false},
	}
	for _, tt := range tests {
		err := ValidateLevel(tt.algorithm, tt.level)
		if tt.ok {
			assert.NoError(t, err, "%s/%d", tt.algorithm, tt.level)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidLevel, "%s/%d", tt.algorithm, tt.level)
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(Zstd, 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidLevel))
}

func TestCompressedSizeDeterministic(t *testing.T) {
	text := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20))
	for _, a := range Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := New(a, DefaultLevel(a))
			require.NoError(t, err)

			first, err := c.CompressedSize(text)
			require.NoError(t, err)
			assert.Greater(t, first, 0)
			assert.Less(t, first, len(text), "repetitive text must shrink")

			for i := 0; i < 5; i++ {
				again, err := c.CompressedSize(text)
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}
}

func TestCompressedSizeRewardsSharedContent(t *testing.T) {
	x := []byte("compression based classification needs no training at all")
	y := []byte("stock markets fell sharply on heavy trading volume today")
	for _, a := range Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := New(a, DefaultLevel(a))
			require.NoError(t, err)

			cxx, err := c.CompressedSize(bytes.Repeat(x, 2))
			require.NoError(t, err)
			cxy, err := c.CompressedSize(append(append([]byte{}, x...), y...))
			require.NoError(t, err)
			assert.Less(t, cxx, cxy)
		})
	}
}

func TestShortInputsShareContent(t *testing.T) {
	x := []byte("cat sat on the mat")
	y := []byte("stock market fell")
	for _, a := range Algorithms() {
		_, hi := LevelRange(a)
		for _, level := range []int{DefaultLevel(a), hi} {
			t.Run(fmt.Sprintf("%s/%d", a, level), func(t *testing.T) {
				c, err := New(a, level)
				require.NoError(t, err)

				cxx, err := c.CompressedSize(append(append([]byte{}, x...), x...))
				require.NoError(t, err)
				cxy, err := c.CompressedSize(append(append([]byte{}, x...), y...))
				require.NoError(t, err)
				assert.Less(t, cxx, cxy)
			})
		}
	}
}

func TestEmptyInputCostsNothing(t *testing.T) {
	for _, a := range Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := New(a, DefaultLevel(a))
			require.NoError(t, err)

			empty, err := c.CompressedSize(nil)
			require.NoError(t, err)
			assert.Zero(t, empty)

			text, err := c.CompressedSize([]byte("a single line of text"))
			require.NoError(t, err)
			assert.Greater(t, text, 0)
		})
	}
}

func TestCompressedSizeConcurrent(t *testing.T) {
	inputs := [][]byte{
		[]byte("alpha beta gamma delta"),
		[]byte(strings.Repeat("abc", 500)),
		{},
		[]byte("a single line of text"),
	}
	for _, a := range Algorithms() {
		t.Run(a.String(), func(t *testing.T) {
			c, err := New(a, DefaultLevel(a))
			require.NoError(t, err)

			want := make([]int, len(inputs))
			for i, in := range inputs {
				want[i], err = c.CompressedSize(in)
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for g := 0; g < 16; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i, in := range inputs {
						got, err := c.CompressedSize(in)
						if err != nil {
							errs <- err
							return
						}
						if got != want[i] {
							errs <- errors.New("size changed under concurrency")
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestCompressionErrorUnwraps(t *testing.T) {
	inner := errors.New("out of memory")
	err := error(&CompressionError{Algorithm: Gzip, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "gzip")
}

func BenchmarkCompressedSize(b *testing.B) {
	text := []byte(strings.Repeat("compression distance benchmark text ", 30))
	for _, a := range Algorithms() {
		c, err := New(a, DefaultLevel(a))
		if err != nil {
			b.Fatal(err)
		}
		b.Run(a.String(), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := c.CompressedSize(text); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
