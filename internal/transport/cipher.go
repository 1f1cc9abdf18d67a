package transport

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// SchemeAESCBC is the only scheme the X-Encrypted header may declare.
const SchemeAESCBC = "AES-CBC"

// IVSize is the length of the IV prefixed to every ciphertext.
const IVSize = aes.BlockSize

// controlPadding is every byte in 0x00..0x10. Some producers pad with NULs,
// others with PKCS#7 bytes, both of which fall in this range.
const controlPadding = "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x09\x0a\x0b\x0c\x0d\x0e\x0f\x10"

// Cipher decrypts the browser envelope base64(IV || AES-CBC ciphertext).
//
// The key is a fixed secret shared with the browser collector and the
// envelope carries no integrity tag. It keeps casual payload inspection out of
// request logs; it is not authenticated encryption.
type Cipher struct {
	block cipher.Block
}

// NewCipher accepts a 16, 24 or 32 byte key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Encrypt produces the wire format the browser collector sends: a random IV,
// PKCS#7 padded CBC ciphertext, standard base64.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	return c.EncryptWithIV(iv, plaintext)
}

// EncryptWithIV is Encrypt with a caller supplied IV.
func (c *Cipher) EncryptWithIV(iv, plaintext []byte) (string, error) {
	if len(iv) != IVSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[IVSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt returns the raw CBC plaintext, padding included.
func (c *Cipher) Decrypt(armored []byte) ([]byte, error) {
	raw, err := decodeBase64(armored)
	if err != nil {
		return nil, &DecryptionError{Stage: "base64", Err: err}
	}
	if len(raw) < IVSize {
		return nil, &DecryptionError{Stage: "envelope", Err: fmt.Errorf("%d bytes is shorter than the IV", len(raw))}
	}
	iv, ct := raw[:IVSize], raw[IVSize:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, &DecryptionError{Stage: "cipher", Err: fmt.Errorf("ciphertext length %d is not a positive multiple of %d", len(ct), aes.BlockSize)}
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, ct)
	return plain, nil
}

// DecryptJSON decrypts armored and parses the plaintext as JSON, first after
// stripping control-byte padding and then after stripping PKCS#7 padding.
func (c *Cipher) DecryptJSON(armored []byte) (any, error) {
	plain, err := c.Decrypt(armored)
	if err != nil {
		return nil, err
	}

	var trimmed any
	if err := json.Unmarshal(stripControlPadding(plain), &trimmed); err == nil {
		return trimmed, nil
	}
	var unpadded any
	if err := json.Unmarshal(utf8Text(stripPKCS7Padding(plain)), &unpadded); err != nil {
		return nil, &DecryptionError{Stage: "padding", Err: err}
	}
	return unpadded, nil
}

// stripControlPadding drops undecodable UTF-8 and trims bytes 0x00..0x10
// from both ends.
func stripControlPadding(b []byte) []byte {
	return []byte(strings.Trim(string(utf8Text(b)), controlPadding))
}

// stripPKCS7Padding removes a trailing run of p bytes of value p when the run
// is plausible and returns b unchanged otherwise.
func stripPKCS7Padding(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	p := int(b[len(b)-1])
	if p == 0 || p > len(b) {
		return b
	}
	for _, x := range b[len(b)-p:] {
		if int(x) != p {
			return b
		}
	}
	return b[:len(b)-p]
}

func pkcs7Pad(b []byte, size int) []byte {
	p := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+p), b...), bytes.Repeat([]byte{byte(p)}, p)...)
}

func utf8Text(b []byte) []byte {
	return []byte(strings.ToValidUTF8(string(b), ""))
}

var errEmptyBody = errors.New("empty body")

// decodeBase64 ignores surrounding and embedded whitespace and accepts
// padded or unpadded standard base64.
func decodeBase64(b []byte) ([]byte, error) {
	s := strings.Join(strings.Fields(string(b)), "")
	if s == "" {
		return nil, errEmptyBody
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if raw, rerr := base64.RawStdEncoding.DecodeString(s); rerr == nil {
		return raw, nil
	}
	return nil, err
}
