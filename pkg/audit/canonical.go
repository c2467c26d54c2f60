// Package audit provides the per-request, hash-chained trail of approval
// actions: canonical serialization, chain hashing, and Postgres storage.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON produces a stable byte representation of v.
// Object keys are sorted lexicographically; no extraneous whitespace.
// Two logically identical actions always canonicalize to the same bytes,
// which is what makes the chain hashes reproducible at verification time.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json unmarshal: %w", err)
	}

	sorted := sortKeys(generic)
	out, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("canonical json re-marshal: %w", err)
	}
	return out, nil
}

// HashBytes returns the hex-encoded SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// sortKeys recursively sorts map keys for deterministic serialization.
func sortKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sorted := make(orderedMap, 0, len(val))
		for _, k := range keys {
			sorted = append(sorted, kv{Key: k, Value: sortKeys(val[k])})
		}
		return sorted

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sortKeys(item)
		}
		return out

	default:
		return val
	}
}

// orderedMap preserves insertion order during JSON marshalling.
type orderedMap []kv

type kv struct {
	Key   string
	Value any
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, item := range om {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(item.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(item.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}
