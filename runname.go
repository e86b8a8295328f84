package ephemeral

import (
	"strings"

	"github.com/google/uuid"
)

const runNamePrefix = "ephemeral-"

// NewRunName returns a container name unique to this run: the service identifier and a random
// UUID. It never depends on the process ID, so concurrent and sandboxed test binaries cannot
// collide.
func NewRunName(serviceID string) string {
	return runNamePrefix + sanitize(serviceID) + "-" + uuid.NewString()
}

// sanitize maps s onto the characters docker accepts in container names.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
	if s == "" {
		return "service"
	}
	return s
}

// validContainerName reports whether name matches docker's [a-zA-Z0-9][a-zA-Z0-9_.-]+.
func validContainerName(name string) bool {
	if len(name) < 2 {
		return false
	}
	for i, r := range name {
		alnum := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
		if i == 0 && !alnum {
			return false
		}
		if !alnum && r != '_' && r != '.' && r != '-' {
			return false
		}
	}
	return true
}
