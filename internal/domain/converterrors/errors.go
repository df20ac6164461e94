// Package converterrors defines the sentinel errors shared across the
// conversion pipeline.
package converterrors

import "errors"

var (
	// ErrNotConfigured is returned when an operation requires a backend
	// (currently only the object store) that wasn't wired at startup.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrUnsupportedExtension is returned by Store when the local file's
	// extension doesn't map to a known content type.
	ErrUnsupportedExtension = errors.New("unsupported file extension")

	// ErrUnknownFileType is returned by the media type detector when no
	// signature in the table matches.
	ErrUnknownFileType = errors.New("unknown file type")

	// ErrDownloadFailed is returned when the downloader receives a
	// non-2xx response or the request otherwise fails.
	ErrDownloadFailed = errors.New("download failed")

	// ErrDownloadTooLarge is returned when a download exceeds the
	// configured byte cap.
	ErrDownloadTooLarge = errors.New("download exceeded size cap")

	// ErrEncodeFailed is returned when a media tool subprocess exits
	// non-zero.
	ErrEncodeFailed = errors.New("encode failed")

	// ErrMalformedJob is returned when a queue message fails to parse.
	ErrMalformedJob = errors.New("malformed job")
)

// Transient wraps an error from a KV, object-store, or queue I/O failure
// so callers can distinguish "the backend is unhappy" from a domain
// error without inspecting error strings.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string {
	return "transient error during " + e.Op + ": " + e.Err.Error()
}

func (e *Transient) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a Transient error tagged with the operation
// name that failed (e.g. "kv.Get", "objectstore.Upload").
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}
