package transport

import "fmt"

// DecryptionError means an encrypted body could not be turned back into JSON.
type DecryptionError struct {
	Stage string // base64, envelope, cipher, padding
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decrypt %s: %v", e.Stage, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// UnsupportedContentTypeError is returned for bodies that are neither
// declared encrypted, JSON, nor an octet stream.
type UnsupportedContentTypeError struct {
	ContentType string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type %q", e.ContentType)
}

// FormatError means the (possibly decrypted) body is not a JSON object.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid data format: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
