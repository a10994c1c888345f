package chat

import (
	"time"
)

// MessageType classifies a message record. The zero value is not valid;
// use TypeMessage as the default for ordinary chat messages.
type MessageType string

const (
	// TypeMessage is an ordinary chat message.
	TypeMessage MessageType = "message"
	// TypeUsernameChange carries a rename request in its content as a
	// small JSON object {"new_username": ...}.
	TypeUsernameChange MessageType = "username_change"
	// TypeError is a system-authored correction referencing a failed
	// message via Parent. Records are immutable, so failures are modeled
	// as new messages rather than edits.
	TypeError MessageType = "error"
)

// VerifyStatus is the tri-state result of signature verification.
// It is derived at read time and never stored in the record itself.
type VerifyStatus string

const (
	// VerifyPassed means the signature matched the author's public key.
	VerifyPassed VerifyStatus = "true"
	// VerifyFailed means a signature was present but did not verify,
	// or the author has no public key on file.
	VerifyFailed VerifyStatus = "false"
	// VerifyNone means the message is unsigned.
	VerifyNone VerifyStatus = ""
)

// Message is one persisted chat record. ID is the storage-level
// identifier: the filename for file-backed storage, a UUID for the
// SQLite backend.
type Message struct {
	ID        string       `json:"id"`
	Author    string       `json:"author"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"timestamp"`
	Parent    string       `json:"parent,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Type      MessageType  `json:"type"`
	Verified  VerifyStatus `json:"verified"`
}

// HasTimestamp reports whether the record carries a resolved creation
// time. Records whose timestamp could not be determined from any source
// (metadata, filename, history) have a zero CreatedAt.
func (m *Message) HasTimestamp() bool {
	return !m.CreatedAt.IsZero()
}

// SaveRequest carries the inputs for storing a new message.
type SaveRequest struct {
	Author  string
	Content string
	Parent  string
	// Timestamp is the record creation time. Zero means "now".
	Timestamp time.Time
	// Sign requests a signature when the author has a key pair.
	// Authors without keys are stored unsigned either way.
	Sign bool
	// Type defaults to TypeMessage when empty.
	Type MessageType
}

// StorageBackend is the capability surface a message store must provide.
// The concrete variant (file-backed or SQLite) is selected from config
// by the store factory, never by ad hoc string branching at call sites.
type StorageBackend interface {
	// Init creates any directories or schema the backend needs.
	Init() error
	// Save validates, stores and optionally signs a new message,
	// returning its storage ID.
	Save(req SaveRequest) (string, error)
	// Read returns the message with the given ID, or (nil, nil) when it
	// does not exist. Missing records are not an error.
	Read(id string) (*Message, error)
	// List returns messages newest first. limit <= 0 means no limit;
	// truncation happens after ordering.
	List(limit int) ([]*Message, error)
	// Close releases backend resources.
	Close() error
}

// Publisher mirrors a changed file under the repository root to a
// remote location. Implementations are best-effort: callers treat a
// publish failure as a log line, never as a failed save.
type Publisher interface {
	Publish(relPath string, author string) error
}
