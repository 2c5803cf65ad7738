package vectorstore

import "errors"

// ErrMalformedBlob is returned by UnpackVector when a stored blob's
// length does not match its own length prefix.
var ErrMalformedBlob = errors.New("vectorstore: malformed vector blob")

// ErrTooManyIDs is returned by GetVectorsByIds when called with more
// than MaxBatchIDs ids.
var ErrTooManyIDs = errors.New("vectorstore: too many ids requested")

// ErrTooLarge is returned by GetAllVectorIds when the result would
// exceed the caller's cap.
var ErrTooLarge = errors.New("vectorstore: result set too large for this operation")
