// Package canonical produces a deterministic JSON encoding used for content
// hashing. Object keys are sorted, numbers are serialized as strings so that
// float formatting can never change a hash, and timestamps are expected to be
// pre-formatted RFC3339 strings by the caller.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v into canonical JSON bytes.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, tree); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Hash returns the hex-encoded SHA-256 of the canonical encoding of v.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		escaped, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(escaped)
	case json.Number:
		// Numbers are hashed as strings to avoid float formatting drift.
		escaped, err := json.Marshal(val.String())
		if err != nil {
			return err
		}
		buf.Write(escaped)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			escaped, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(escaped)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}

	return nil
}
