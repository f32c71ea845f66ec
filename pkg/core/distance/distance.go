// Package distance provides the vector kernels used by the similarity index.
// It supports the Euclidean and Cosine metrics over float32 and float16
// storage.
//
// At startup the package checks the CPU with cpuid and routes float32 kernels
// to vek (hand-written AVX2/FMA assembly) when available, otherwise to the
// gonum BLAS implementation, falling back to pure Go for float16.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/viterin/vek/vek32"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// DistanceMetric defines the type of distance calculation to perform.
type DistanceMetric string

// PrecisionType defines the data type used for vector storage.
type PrecisionType string

const (
	// Euclidean is the squared Euclidean distance.
	Euclidean DistanceMetric = "euclidean"
	// Cosine is 1 - dot(a, b) over unit vectors.
	Cosine DistanceMetric = "cosine"

	Float32 PrecisionType = "float32"
	Float16 PrecisionType = "float16"
)

// ErrLengthMismatch is returned when two vectors of different length are compared.
var ErrLengthMismatch = errors.New("distance: vectors must have the same length")

type DistanceFuncF32 func(v1, v2 []float32) (float64, error)
type DistanceFuncF16 func(v1, v2 []uint16) (float64, error)

// engineName describes the kernels selected at init. Exposed via Engine().
var engineName = "pure go"

func init() {
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) {
		float32Funcs[Euclidean] = squaredEuclideanVek
		float32Funcs[Cosine] = dotProductAsDistanceVek
		engineName = "vek (AVX2/FMA)"
	} else {
		float32Funcs[Euclidean] = squaredEuclideanGonum
		float32Funcs[Cosine] = dotProductAsDistanceGonum
		engineName = "gonum blas"
	}
	slog.Debug("distance kernels selected", "float32", engineName, "float16", "pure go", "cpu", cpuid.CPU.BrandName)
}

// Engine returns a human readable description of the active float32 kernels.
func Engine() string {
	return engineName
}

// Validate checks that metric and precision are supported.
func Validate(metric DistanceMetric, precision PrecisionType) error {
	if _, ok := float32Funcs[metric]; !ok {
		return fmt.Errorf("unsupported metric %q", metric)
	}
	switch precision {
	case Float32, Float16:
		return nil
	}
	return fmt.Errorf("unsupported precision %q", precision)
}

// diffWorkspace is a pool of scratch slices used by the gonum Euclidean kernel
// to hold v1 - v2 without allocating per call.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 1536)
		return &s
	},
}

// --- pure Go reference kernels ---

func squaredEuclideanGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		diff := v1[i] - v2[i]
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return 1.0 - float64(sum), nil
}

func squaredEuclideanF16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		diff := float16.Frombits(v1[i]).Float32() - float16.Frombits(v2[i]).Float32()
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceF16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		sum += float16.Frombits(v1[i]).Float32() * float16.Frombits(v2[i]).Float32()
	}
	return 1.0 - float64(sum), nil
}

// --- gonum BLAS kernels ---

var gonumEngine = gonum.Implementation{}

func squaredEuclideanGonum(v1, v2 []float32) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrLengthMismatch
	}
	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, v1)
	gonumEngine.Saxpy(n, -1, v2, 1, diff, 1)
	return float64(gonumEngine.Sdot(n, diff, 1, diff, 1)), nil
}

func dotProductAsDistanceGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	return 1.0 - float64(gonumEngine.Sdot(len(v1), v1, 1, v2, 1)), nil
}

// --- vek SIMD kernels ---

func squaredEuclideanVek(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	if len(v1) == 0 {
		return 0, nil
	}
	d := float64(vek32.Distance(v1, v2))
	return d * d, nil
}

func dotProductAsDistanceVek(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	if len(v1) == 0 {
		return 1, nil
	}
	return 1.0 - float64(vek32.Dot(v1, v2)), nil
}

// --- catalogs ---

var float32Funcs = map[DistanceMetric]DistanceFuncF32{
	Euclidean: squaredEuclideanGo,
	Cosine:    dotProductAsDistanceGo,
}

var float16Funcs = map[DistanceMetric]DistanceFuncF16{
	Euclidean: squaredEuclideanF16,
	Cosine:    dotProductAsDistanceF16,
}

// GetFloat32Func returns the active float32 kernel for a metric.
func GetFloat32Func(metric DistanceMetric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported metric %q for float32", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the float16 kernel for a metric.
func GetFloat16Func(metric DistanceMetric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("unsupported metric %q for float16", metric)
	}
	return fn, nil
}

// scoreEpsilon absorbs float32 rounding so that a vector scores exactly 1
// against itself.
const scoreEpsilon = 1e-6

// Similarity converts a distance produced by metric into a similarity score
// where larger is more similar. Cosine yields 1 - d, i.e. the cosine
// similarity clamped to [-1, 1]. Euclidean yields 1 / (1 + d) in (0, 1].
// Scores within scoreEpsilon of 1 are reported as 1.
func Similarity(metric DistanceMetric, d float64) float64 {
	var s float64
	if metric == Cosine {
		s = max(-1.0, min(1.0, 1.0-d))
	} else {
		s = 1.0 / (1.0 + max(d, 0))
	}
	if s > 1.0-scoreEpsilon {
		s = 1.0
	}
	return s
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// ToFloat16 converts a float32 vector into float16 bit patterns.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// FromFloat16 converts float16 bit patterns back into float32.
func FromFloat16(v []uint16) []float32 {
	out := make([]float32, len(v))
	for i, b := range v {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}
