package chat

import "regexp"

// usernamePattern is the single source of truth for registered
// usernames: 3-20 characters, letters, digits and underscores.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// ValidUsernameFormat reports whether name matches the registered
// username pattern. It does not include the reserved-name exceptions;
// use ValidAuthor for that.
func ValidUsernameFormat(name string) bool {
	return usernamePattern.MatchString(name)
}

// ValidAuthor reports whether name may appear as a message author.
// "anonymous" and "system" are always permitted regardless of pattern.
func ValidAuthor(name string) bool {
	if name == "anonymous" || name == "system" {
		return true
	}
	return ValidUsernameFormat(name)
}
