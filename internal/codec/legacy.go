package codec

import (
	"encoding/json"
	"strings"
)

// legacyRecord is the JSON message shape from before the footer format
// was introduced. This decode path exists only so that old files remain
// readable; new records are never written this way.
type legacyRecord struct {
	Content   string `json:"content"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
	Parent    string `json:"parent"`
	Signature string `json:"signature"`
	Type      string `json:"type"`
}

// decodeLegacyJSON attempts to parse text as a legacy JSON record and
// normalize it into the footer metadata shape. ok is false when the
// input is not a JSON object carrying at least a content field, in
// which case the caller falls through to the footer decoder.
func decodeLegacyJSON(text string) (map[string]string, string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, "", false
	}

	var rec legacyRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, "", false
	}
	if rec.Content == "" {
		return nil, "", false
	}

	meta := map[string]string{}
	if rec.Author != "" {
		meta[FieldAuthor] = rec.Author
		meta[FieldPublicKey] = "identity/public_keys/" + rec.Author + ".pub"
	}
	if rec.Timestamp != "" {
		meta[FieldDate] = rec.Timestamp
	}
	if rec.Parent != "" {
		meta[FieldParent] = rec.Parent
	}
	if rec.Signature != "" {
		meta[FieldSignature] = rec.Signature
	}
	if rec.Type != "" {
		meta[FieldType] = rec.Type
	}
	return meta, rec.Content, true
}
