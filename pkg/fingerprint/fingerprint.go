// Package fingerprint computes content hashes over raw provider payloads.
//
// The hash is SHA-256 over a canonical JSON rendering with map keys sorted at every
// level and numbers rendered in one form, so logically equal payloads hash
// identically regardless of key order or number spelling.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// maxExactInt is 2^53, the bound past which float64 loses integer precision.
const maxExactInt = 1 << 53

// Generate fingerprints data.
func Generate(data map[string]any) string {
	return GenerateWithExclusions(data, nil)
}

// GenerateWithExclusions fingerprints data while skipping the given dot-notation paths.
// Excluding a path also excludes everything nested beneath it.
func GenerateWithExclusions(data map[string]any, excludeFields map[string]bool) string {
	var sb strings.Builder
	writeCanonical(&sb, data, excludeFields, "")

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

func writeCanonical(sb *strings.Builder, data any, excludeFields map[string]bool, currentPath string) {
	switch v := data.(type) {
	case map[string]any:
		writeMap(sb, v, excludeFields, currentPath)
	case []any:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			// array elements share the parent path
			writeCanonical(sb, item, excludeFields, currentPath)
		}
		sb.WriteByte(']')
	case json.Number:
		writeNumber(sb, v)
	default:
		// encoding/json sorts keys of any other map type
		b, _ := json.Marshal(v)
		sb.Write(b)
	}
}

// writeNumber renders a decoded json.Number the way the same value decoded as
// float64 would render, so "1.0", "1" and float64(1) hash alike. Integers that
// float64 cannot hold exactly keep their digits.
func writeNumber(sb *strings.Builder, n json.Number) {
	if i, err := n.Int64(); err == nil {
		if i > -maxExactInt && i < maxExactInt {
			b, _ := json.Marshal(float64(i))
			sb.Write(b)
			return
		}
		sb.WriteString(strconv.FormatInt(i, 10))
		return
	}
	if !strings.ContainsAny(string(n), ".eE") {
		// integer beyond int64
		sb.WriteString(strings.TrimPrefix(string(n), "+"))
		return
	}
	if f, err := n.Float64(); err == nil {
		b, _ := json.Marshal(f)
		sb.Write(b)
		return
	}
	sb.WriteString(string(n))
}

func writeMap(sb *strings.Builder, m map[string]any, excludeFields map[string]bool, currentPath string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	first := true
	for _, k := range keys {
		fieldPath := k
		if currentPath != "" {
			fieldPath = currentPath + "." + k
		}
		if shouldExcludeField(fieldPath, excludeFields) {
			continue
		}

		if !first {
			sb.WriteByte(',')
		}
		first = false

		keyJSON, _ := json.Marshal(k)
		sb.Write(keyJSON)
		sb.WriteByte(':')
		writeCanonical(sb, m[k], excludeFields, fieldPath)
	}
	sb.WriteByte('}')
}

func shouldExcludeField(fieldPath string, excludeFields map[string]bool) bool {
	if len(excludeFields) == 0 {
		return false
	}
	if excludeFields[fieldPath] {
		return true
	}
	for excluded := range excludeFields {
		if strings.HasPrefix(fieldPath, excluded+".") {
			return true
		}
	}
	return false
}

// HasChanged reports whether a stored hash differs from an incoming one.
func HasChanged(existingHash, incomingHash string) bool {
	return existingHash != incomingHash
}
