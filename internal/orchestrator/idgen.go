package orchestrator

import "github.com/google/uuid"

// newSessionID mints a brainstorm session id, matching the data model's
// "ses_" + 8 lowercase alphanumerics shape (SPEC_FULL.md §3 expansion).
func newSessionID() string {
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
	return "ses_" + string(suffix)
}
