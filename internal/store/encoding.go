package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned by encodeVector/decodeVector on malformed input.
var ErrInvalidVector = errors.New("store: invalid vector")

// encodeVector serializes a float32 vector to a little-endian byte blob,
// adapted from the teacher's internal/encoding.EncodeVector.
func encodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	buf := new(bytes.Buffer)
	buf.Grow(4 * len(vector))
	for _, val := range vector {
		if err := binary.Write(buf, binary.LittleEndian, val); err != nil {
			return nil, fmt.Errorf("store: encode vector value: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// decodeVector deserializes a little-endian byte blob back to a float32
// vector, adapted from the teacher's internal/encoding.DecodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return []float32{}, nil
	}
	if len(data)%4 != 0 {
		return nil, ErrInvalidVector
	}
	n := len(data) / 4
	vector := make([]float32, n)
	buf := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		if err := binary.Read(buf, binary.LittleEndian, &vector[i]); err != nil {
			return nil, fmt.Errorf("store: decode vector value at %d: %w", i, err)
		}
	}
	return vector, nil
}

// validateVector rejects NaN/Inf components, same check as the teacher's
// ValidateVector.
func validateVector(v []float32) error {
	if len(v) == 0 {
		return ErrInvalidVector
	}
	for _, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
