package base64url

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Encode returns the unpadded base64url form of b.
func Encode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// Decode accepts unpadded base64url, tolerating surrounding whitespace.
func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
}

// DecodeFixed decodes s into exactly len(dst) bytes.
func DecodeFixed(dst []byte, s string) error {
	b, err := Decode(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("base64url: want %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
