package feed

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// CanonicalJSON serializes v with sorted object keys, no insignificant
// whitespace and no HTML escaping. Non-ASCII characters are written as
// lowercase \uXXXX escapes, with surrogate pairs outside the BMP.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode canonical json: %w", err)
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII rewrites every non-ASCII rune of an encoded JSON document.
// Such runes can only occur inside string literals.
func escapeNonASCII(data []byte) []byte {
	i := 0
	for i < len(data) && data[i] < utf8.RuneSelf {
		i++
	}
	if i == len(data) {
		return data
	}

	out := make([]byte, 0, len(data)+16)
	out = append(out, data[:i]...)
	for i < len(data) {
		if data[i] < utf8.RuneSelf {
			out = append(out, data[i])
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		i += size
		if r > 0xFFFF {
			r1, r2 := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
			continue
		}
		out = fmt.Appendf(out, `\u%04x`, r)
	}
	return out
}

// SHA1Hex returns the hex sha1 digest of data
func SHA1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SubfeedHash resolves a subfeed name. A string starting with "~" is taken
// as a literal hash, any other string is hashed, and structured names are
// hashed through their canonical JSON.
func SubfeedHash(name any) (string, error) {
	switch n := name.(type) {
	case string:
		if strings.HasPrefix(n, "~") {
			return n[1:], nil
		}
		return SHA1Hex([]byte(n)), nil
	case nil:
		return "", fmt.Errorf("subfeed name is required")
	default:
		data, err := CanonicalJSON(n)
		if err != nil {
			return "", err
		}
		return SHA1Hex(data), nil
	}
}

// HashURI builds the URI returned by StoreJSON
func HashURI(sha1 string) string {
	return "sha1://" + sha1 + "/object.json"
}

// ParseHashURI splits a content URI such as sha1://<hash>/object.json?x=y
// into its algorithm and hash.
func ParseHashURI(uri string) (algorithm string, hash string, err error) {
	base, _, _ := strings.Cut(uri, "?")
	protocol, rest, ok := strings.Cut(base, "://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	hash, _, _ = strings.Cut(rest, "/")
	hash, _, _ = strings.Cut(hash, ".")
	if hash == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	for _, alg := range []string{"sha1", "md5", "key"} {
		if strings.HasPrefix(protocol, alg) {
			return alg, hash, nil
		}
	}
	return "", "", fmt.Errorf("%w: unexpected protocol %q", ErrUnsupportedHash, protocol)
}

// SHA1FromURI returns the hash of a sha1:// URI and rejects every other algorithm
func SHA1FromURI(uri string) (string, error) {
	alg, hash, err := ParseHashURI(uri)
	if err != nil {
		return "", err
	}
	if alg != "sha1" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedHash, alg)
	}
	if protocol, _, _ := strings.Cut(uri, "://"); protocol != "sha1" {
		return "", fmt.Errorf("%w: unexpected protocol %q", ErrUnsupportedHash, protocol)
	}
	return hash, nil
}

// FeedURI builds a feed:// URI for a feed id
func FeedURI(feedID string) string {
	return "feed://" + feedID
}

// FeedIDFromURI extracts the feed id from feed://<id>[/...]
func FeedIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "feed://")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return id, nil
}
