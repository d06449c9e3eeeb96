// Package vector holds the similarity math and the content-addressed key
// used by the cache.
package vector

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"www.github.com/Wanderer0074348/SemCache/src/models"
)

// KeyLength is the length of a key returned by Key.
const KeyLength = sha256.Size * 2

// DimensionError reports a vector whose length differs from the store's.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, models.ErrInvalidInput) match a DimensionError.
func (e *DimensionError) Is(target error) bool {
	return target == models.ErrInvalidInput
}

// Key returns the hex SHA-256 of the little-endian IEEE-754 bytes of v.
// Bit-identical vectors always share a key.
func Key(v []float32) string {
	sum := sha256.Sum256(Encode(v))
	return hex.EncodeToString(sum[:])
}

// CheckHasher verifies the hash primitive produces keys of the expected
// shape. It is called once at startup.
func CheckHasher() error {
	k := Key([]float32{1, 0, 0})
	if len(k) != KeyLength {
		return fmt.Errorf("sha256 key has length %d, want %d", len(k), KeyLength)
	}
	if k != Key([]float32{1, 0, 0}) {
		return fmt.Errorf("sha256 key is not deterministic")
	}
	return nil
}

// Encode serialises v as little-endian float32 bytes.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector encoding has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// Validate rejects vectors that cannot be compared by cosine similarity.
// dim <= 0 skips the dimension check.
func Validate(v []float32, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", models.ErrInvalidInput)
	}
	if dim > 0 && len(v) != dim {
		return &DimensionError{Expected: dim, Actual: len(v)}
	}
	var norm float64
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite component at index %d", models.ErrInvalidInput, i)
		}
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", models.ErrInvalidInput)
	}
	return nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var n float64
	for _, f := range v {
		n += float64(f) * float64(f)
	}
	return math.Sqrt(n)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Mismatched lengths or a zero vector yield 0. The result is clamped to [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return clamp(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// CosineWithNorms is CosineSimilarity with both norms already known.
func CosineWithNorms(a, b []float32, normA, normB float64) float64 {
	if len(a) != len(b) || normA == 0 || normB == 0 {
		return 0.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clamp(dot / (normA * normB))
}

// CosineDistance is 1 - cosine similarity, in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// Clone returns a copy of v.
func Clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
