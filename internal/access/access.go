// Package access implements the static allow-list gate applied before any
// message processing.
package access

import "strings"

// Policy maps a display handle to an allow/deny decision. It is built once
// at startup from configuration and is safe for concurrent use.
type Policy struct {
	allowed map[string]struct{}
}

// NewPolicy builds a policy from the configured handles. Handles are
// matched case-insensitively and with any leading "@" stripped.
func NewPolicy(handles []string) *Policy {
	allowed := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		h = normalize(h)
		if h == "" {
			continue
		}
		allowed[h] = struct{}{}
	}
	return &Policy{allowed: allowed}
}

// Allowed reports whether the handle is on the allow-list.
func (p *Policy) Allowed(handle string) bool {
	_, ok := p.allowed[normalize(handle)]
	return ok
}

// Size returns the number of allow-listed handles.
func (p *Policy) Size() int {
	return len(p.allowed)
}

func normalize(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
