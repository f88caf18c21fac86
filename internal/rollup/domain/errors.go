package rollup

import "errors"

var (
	ErrInvalidGranularity = errors.New("rollup: invalid granularity")
	ErrInvalidBucketStart = errors.New("rollup: invalid bucket start")
	ErrNilBucket          = errors.New("rollup: nil bucket")
	ErrKeyMismatch        = errors.New("rollup: bucket key mismatch")
)
