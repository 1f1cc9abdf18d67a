// Package transport turns /predict request bodies into JSON records. Bodies
// arrive as plain JSON or as the browser collector's AES-CBC envelope.
package transport

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// EncryptedHeader declares the body encryption scheme.
const EncryptedHeader = "X-Encrypted"

// Record is a decoded request object.
type Record map[string]any

// Mode records which decode path produced a Record.
type Mode string

const (
	ModeEncrypted      Mode = "encrypted"
	ModeJSON           Mode = "json"
	ModeOctetEncrypted Mode = "octet_encrypted"
	ModeOctetPlainJSON Mode = "octet_json"
	ModeUnknown        Mode = "unknown"
)

// Result is a decoded body and the path that decoded it.
type Result struct {
	Record Record
	Mode   Mode
}

// ErrEncryptionDisabled is wrapped in a DecryptionError when a request asks
// for decryption and no key is configured.
var ErrEncryptionDisabled = errors.New("encryption disabled")

// Decoder dispatches on headers. A nil cipher disables the encrypted paths.
type Decoder struct {
	cipher *Cipher
}

// NewDecoder returns a Decoder; c may be nil.
func NewDecoder(c *Cipher) *Decoder {
	return &Decoder{cipher: c}
}

// EncryptionEnabled reports whether a key is configured.
func (d *Decoder) EncryptionEnabled() bool { return d.cipher != nil }

// Decode applies, in order: the X-Encrypted header, a JSON content type, an
// octet-stream content type (decrypt, then plain JSON), and otherwise fails
// with UnsupportedContentTypeError.
func (d *Decoder) Decode(body []byte, header http.Header) (Result, error) {
	if header.Get(EncryptedHeader) == SchemeAESCBC {
		rec, err := d.decrypt(body)
		if err != nil {
			return Result{Mode: ModeEncrypted}, err
		}
		return Result{Record: rec, Mode: ModeEncrypted}, nil
	}

	ct := header.Get("Content-Type")
	mt := mediaType(ct)
	switch {
	case isJSON(mt):
		rec, err := parseRecord(body)
		if err != nil {
			return Result{Mode: ModeJSON}, err
		}
		return Result{Record: rec, Mode: ModeJSON}, nil

	case mt == "application/octet-stream":
		if rec, err := d.decrypt(body); err == nil {
			return Result{Record: rec, Mode: ModeOctetEncrypted}, nil
		}
		rec, err := parseRecord(body)
		if err != nil {
			return Result{Mode: ModeOctetPlainJSON}, err
		}
		return Result{Record: rec, Mode: ModeOctetPlainJSON}, nil
	}

	return Result{Mode: ModeUnknown}, &UnsupportedContentTypeError{ContentType: ct}
}

func (d *Decoder) decrypt(body []byte) (Record, error) {
	if d.cipher == nil {
		return nil, &DecryptionError{Stage: "cipher", Err: ErrEncryptionDisabled}
	}
	v, err := d.cipher.DecryptJSON(body)
	if err != nil {
		return nil, err
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, &FormatError{Err: fmt.Errorf("decrypted payload is %s, not an object", jsonKind(v))}
	}
	return Record(rec), nil
}

func parseRecord(body []byte) (Record, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, &FormatError{Err: err}
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return nil, &FormatError{Err: fmt.Errorf("body is %s, not an object", jsonKind(v))}
	}
	return Record(rec), nil
}

func mediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// isJSON matches application/json and application/*+json.
func isJSON(mt string) bool {
	return mt == "application/json" ||
		(strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
