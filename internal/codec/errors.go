package codec

import "errors"

var (
	// ErrEmptyPayload is returned when there is nothing to decode.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrPayloadTooLarge is returned when a payload, compressed or not, exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")

	// ErrUnsupportedFormat is returned for encodings the codec does not know.
	ErrUnsupportedFormat = errors.New("unsupported format")
)
