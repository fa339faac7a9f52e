package manifest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalEncode renders v (anything JSON-marshalable) as a deterministic
// byte string: object keys are recursively sorted lexicographically, arrays
// preserve declaration order, and numbers/strings print via encoding/json's
// own canonical scalar encoding. This is the one place the gateway must not
// rely on a language's default map/struct field ordering.
func canonicalEncode(v any) ([]byte, error) {
	// Round-trip through encoding/json with UseNumber so integers don't
	// pick up float formatting noise, then recursively re-encode with
	// sorted keys.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalEncode: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalEncode: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(t.String())
		return nil
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// signableCopy returns m with Signature cleared, so the hash input never
// includes the field it is computed into.
func (m Manifest) signableCopy() Manifest {
	m.Signature = ""
	return m
}

// computeSignature returns "sha256-<hex>" (or HMAC-SHA-256 variant when
// secret is non-empty) over the canonical encoding of m minus its own
// Signature field.
func computeSignature(m Manifest, secret string) (string, error) {
	encoded, err := canonicalEncode(m.signableCopy())
	if err != nil {
		return "", err
	}

	var sum []byte
	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(encoded)
		sum = mac.Sum(nil)
	} else {
		h := sha256.Sum256(encoded)
		sum = h[:]
	}
	return fmt.Sprintf("sha256-%x", sum), nil
}
