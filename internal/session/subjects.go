package session

import "strings"

// Subject types a student may request help with. Matching is
// case-insensitive.
var validTypes = []string{"math", "college", "science"}

// ValidType reports whether t is an accepted subject type.
func ValidType(t string) bool {
	for _, v := range validTypes {
		if strings.EqualFold(v, t) {
			return true
		}
	}
	return false
}
