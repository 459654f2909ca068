// Package authz decides whether a sender or group may talk to an instance.
// All functions are pure; the allowlists come from the instance config.
package authz

import "strings"

const Wildcard = "*"

const groupSuffix = "@g.us"

// Normalize strips the messaging-network suffix from an identifier, so
// "5551234567@c.us" and "5551234567" compare equal.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		return id[:at]
	}
	return id
}

// IsGroupID reports whether id names a group on the messaging network.
func IsGroupID(id string) bool {
	return strings.HasSuffix(strings.TrimSpace(id), groupSuffix)
}

// IsUserAuthorized reports whether id may talk to an instance with the given
// allowlists. Empty allowlists deny everyone; a wildcard entry allows anyone.
// Group identifiers, flagged by the caller or recognized by suffix, are
// delegated to IsGroupAuthorized.
func IsUserAuthorized(id string, isGroup bool, allowedUsers, allowedGroups []string) bool {
	for _, entry := range allowedUsers {
		if strings.TrimSpace(entry) == Wildcard {
			return true
		}
	}
	if isGroup || IsGroupID(id) {
		return IsGroupAuthorized(id, allowedGroups)
	}
	normalized := Normalize(id)
	if normalized == "" {
		return false
	}
	for _, entry := range allowedUsers {
		if Normalize(entry) == normalized {
			return true
		}
	}
	return false
}

// IsGroupAuthorized reports whether a group id is allowlisted. Unlike user
// entries, group entries match exactly; only the wildcard is special.
func IsGroupAuthorized(id string, allowedGroups []string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, entry := range allowedGroups {
		entry = strings.TrimSpace(entry)
		if entry == Wildcard || entry == id {
			return true
		}
	}
	return false
}
