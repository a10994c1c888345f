// Package codec serializes message records to and from their on-disk
// textual representation: the message body followed by a metadata
// footer, separated by an email-signature style delimiter line.
package codec

import (
	"fmt"
	"strings"
	"time"
)

// delimiter separates content from the metadata footer. The trailing
// space is part of the on-disk format and must be preserved for
// compatibility with existing message files.
const delimiter = "-- "

// Footer field names, in their fixed on-disk order.
const (
	FieldAuthor    = "Author"
	FieldDate      = "Date"
	FieldPublicKey = "Public-Key"
	FieldParent    = "Parent-Message"
	FieldSignature = "Signature"
	FieldType      = "Type"
)

// Record holds the encodable fields of a message. Optional fields are
// omitted from the footer when empty.
type Record struct {
	Content   string
	Author    string
	Timestamp time.Time
	Parent    string
	Signature string
	Type      string
}

// Encode renders a record as content plus metadata footer. Trailing
// whitespace is trimmed from the content; the Public-Key field always
// references the author's key path in the shared identity directory.
func Encode(r Record) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(r.Content, " \t\r\n"))
	b.WriteString("\n\n" + delimiter + "\n")
	fmt.Fprintf(&b, "%s: %s\n", FieldAuthor, r.Author)
	fmt.Fprintf(&b, "%s: %s\n", FieldDate, r.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%s: identity/public_keys/%s.pub\n", FieldPublicKey, r.Author)
	if r.Parent != "" {
		fmt.Fprintf(&b, "%s: %s\n", FieldParent, r.Parent)
	}
	if r.Signature != "" {
		fmt.Fprintf(&b, "%s: %s\n", FieldSignature, r.Signature)
	}
	if r.Type != "" {
		fmt.Fprintf(&b, "%s: %s\n", FieldType, r.Type)
	}
	return b.String()
}

// Decode splits a stored message into its metadata map and content.
//
// Three on-disk shapes are accepted, tried in order:
//  1. a legacy JSON object ({"content": ..., "author": ...}), normalized
//     into the same metadata/content shape (see legacy.go);
//  2. footer-delimited text, the current format;
//  3. plain text without a delimiter, in which case the whole input is
//     content and the metadata map is empty.
func Decode(text string) (map[string]string, string) {
	if meta, content, ok := decodeLegacyJSON(text); ok {
		return meta, content
	}

	// The footer is the last delimiter line in the file, so content
	// containing a literal "-- " line does not confuse the split.
	idx := strings.LastIndex(text, "\n"+delimiter+"\n")
	if idx < 0 {
		return map[string]string{}, strings.TrimRight(text, " \t\r\n")
	}

	content := strings.TrimRight(text[:idx], " \t\r\n")
	meta := map[string]string{}
	for _, line := range strings.Split(text[idx+len(delimiter)+2:], "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		meta[key] = value
	}
	return meta, content
}
