package vectorstore

import (
	"encoding/binary"
	"math"
)

// encodeVector serializes a float32 slice as an int32 little-endian length
// prefix followed by little-endian float32 values.
func encodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, ErrInvalidVector
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vector)))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(val))
	}
	return buf, nil
}

// decodeVector deserializes a blob produced by encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := int32(binary.LittleEndian.Uint32(data[0:4]))
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if len(data) != 4+4*int(length) {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}
