// Package utils provides common utility functions.
package utils

import (
	"bytes"
	"encoding/json"
	"errors"
)

// MarshalNoEscape marshals JSON without HTML escaping.
// This avoids inflating payloads by rewriting characters such as angle
// brackets into their \u escapes.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder adds a trailing newline; remove it for parity with json.Marshal.
	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return out, nil
}

// CanonicalizeJSON re-serializes a JSON document with sorted object keys and
// no HTML escaping. Stored requests and /checkchat lookups both go through
// this, so an identical payload matches regardless of the client's key order.
// Numbers decode as json.Number so values past float64 precision survive the
// round trip exactly.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return MarshalNoEscape(v)
}
