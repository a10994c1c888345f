package chat

import "errors"

// Sentinel errors for conditions callers branch on with errors.Is.
// Everything else is wrapped context via fmt.Errorf("...: %w", err).
var (
	// ErrEmptyContent rejects empty or whitespace-only message bodies
	// before any write happens.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrInvalidUsername rejects usernames outside the allowed format.
	ErrInvalidUsername = errors.New("invalid username format")

	// ErrNoKey means a signing operation was requested for a user
	// without a private key.
	ErrNoKey = errors.New("no private key for user")

	// ErrUsernameTaken rejects a rename to a username that already has
	// a public key on file.
	ErrUsernameTaken = errors.New("username already exists")
)
