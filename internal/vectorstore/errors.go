package vectorstore

import "errors"

var (
	// ErrDimensionMismatch indicates an embedding whose dimension does not
	// match the store's configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyBatch indicates a put with no chunks.
	ErrEmptyBatch = errors.New("chunk batch is empty")

	// ErrInvalidArgument indicates a malformed chunk or parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable indicates a transient storage failure; read-path
	// callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidVector indicates a blob that cannot be decoded.
	ErrInvalidVector = errors.New("invalid vector encoding")
)
