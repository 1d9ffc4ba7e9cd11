package session

import "github.com/google/uuid"

// newOpaqueID renders a fresh UUID v4 down to the 8-character lowercase
// alphanumeric suffix the data model requires (§3), prefixed with prefix.
func newOpaqueID(prefix string) string {
	raw := uuid.New().String()
	suffix := make([]byte, 0, 8)
	for _, r := range raw {
		if r == '-' {
			continue
		}
		suffix = append(suffix, byte(r))
		if len(suffix) == 8 {
			break
		}
	}
	return prefix + string(suffix)
}
