package codec

import "errors"

var (
	// ErrCorrupt indicates the compressed stream violates its format.
	ErrCorrupt = errors.New("codec: corrupt stream")
	// ErrTruncated indicates the input ended before the stream did.
	ErrTruncated = errors.New("codec: truncated stream")
	// ErrChecksum indicates decoded data failed a stream checksum.
	ErrChecksum = errors.New("codec: checksum mismatch")
	// ErrUnsupported indicates a valid but unimplemented stream variant.
	ErrUnsupported = errors.New("codec: unsupported stream variant")
	// ErrTooLarge indicates decoded output exceeded the caller's limit.
	ErrTooLarge = errors.New("codec: output exceeds limit")
)
