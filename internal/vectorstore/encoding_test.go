package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.25, 0}
	blob, err := encodeVector(vec)
	require.NoError(t, err)

	got, err := decodeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestEncodeNilVector(t *testing.T) {
	_, err := encodeVector(nil)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestDecodeInvalid(t *testing.T) {
	cases := map[string][]byte{
		"too short":      {1, 2},
		"truncated body": {2, 0, 0, 0, 1, 2, 3, 4},
		"trailing bytes": {1, 0, 0, 0, 1, 2, 3, 4, 5},
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeVector(blob)
			assert.ErrorIs(t, err, ErrInvalidVector)
		})
	}
}
