package rule

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Process is a transform applied to every captured group before it is
// substituted into a rule's target.
type Process string

const (
	ProcessURLEncode    Process = "urlEncode"
	ProcessURLDecode    Process = "urlDecode"
	ProcessBase64Encode Process = "base64Encode"
	ProcessBase64Decode Process = "base64Decode"
)

var (
	errMalformedText   = errors.New("malformed text")
	errNotLatin1       = errors.New("character outside of latin1 range")
	errMalformedBase64 = errors.New("malformed base64")
)

// Apply transforms s. Unknown processes return s unchanged.
func (p Process) Apply(s string) (string, error) {
	switch p {
	case ProcessURLEncode:
		return encodeURIComponent(s)
	case ProcessURLDecode:
		return decodeURIComponent(s)
	case ProcessBase64Encode:
		return base64Encode(s)
	case ProcessBase64Decode:
		return base64Decode(s)
	default:
		return s, nil
	}
}

// Known reports whether p names one of the supported transforms.
func (p Process) Known() bool {
	switch p {
	case ProcessURLEncode, ProcessURLDecode, ProcessBase64Encode, ProcessBase64Decode:
		return true
	}
	return false
}

const upperhex = "0123456789ABCDEF"

func shouldEscape(c byte) bool {
	if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
		return false
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return false
	}
	return true
}

// encodeURIComponent percent-encodes every byte outside the URI component
// unreserved set. url.QueryEscape and url.PathEscape both keep a different set.
func encodeURIComponent(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", errMalformedText
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !shouldEscape(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String(), nil
}

func decodeURIComponent(s string) (string, error) {
	out, err := url.PathUnescape(s)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(out) {
		return "", errMalformedText
	}
	return out, nil
}

// base64Encode encodes the latin1 bytes of s.
func base64Encode(s string) (string, error) {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return "", fmt.Errorf("%w: %q", errNotLatin1, r)
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// base64Decode is forgiving about whitespace and padding and returns the
// decoded bytes as latin1 text.
func base64Decode(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	if len(s)%4 == 0 {
		s = strings.TrimSuffix(s, "=")
		s = strings.TrimSuffix(s, "=")
	}
	if len(s)%4 == 1 || strings.ContainsRune(s, '=') {
		return "", errMalformedBase64
	}
	buf, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errMalformedBase64, err)
	}
	runes := make([]rune, len(buf))
	for i, c := range buf {
		runes[i] = rune(c)
	}
	return string(runes), nil
}
