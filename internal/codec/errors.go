package codec

import "errors"

var (
	// ErrTruncatedFrame means the buffer ended before a field could be read.
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrMalformedFrame means a declared length or count disagrees with the bytes.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrHandshakeRejected means the IMEI frame failed the length or format check.
	ErrHandshakeRejected = errors.New("handshake rejected")
)
