package integrations

import (
	"encoding/json"
	"strconv"
)

// Envelope keys the platform adds to every record. They are not provider content.
const (
	MetaKey       = "_meta"
	NangoMetaKey  = "_nango_metadata"
	actionDeleted = "DELETED"
)

// EnvelopeKeys are excluded from storage and from the content hash.
var EnvelopeKeys = map[string]bool{
	MetaKey:      true,
	NangoMetaKey: true,
}

// Record is one raw provider record as returned by ListRecords.
type Record map[string]any

// ExternalID returns the record's "id" as a string. Numeric ids are formatted without exponent.
func (r Record) ExternalID() string {
	switch id := r["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// IsDeleted reports whether the platform marked the record deleted upstream.
func (r Record) IsDeleted() bool {
	if meta, ok := r[MetaKey].(map[string]any); ok {
		if present(meta["deletedAt"]) || present(meta["deleted_at"]) {
			return true
		}
	}
	if meta, ok := r[NangoMetaKey].(map[string]any); ok {
		if present(meta["deleted_at"]) {
			return true
		}
		if action, _ := meta["last_action"].(string); action == actionDeleted {
			return true
		}
	}
	return false
}

// Payload returns a shallow copy of the record without the platform envelope.
func (r Record) Payload() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if EnvelopeKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	default:
		return true
	}
}
