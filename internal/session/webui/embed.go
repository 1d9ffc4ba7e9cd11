// Package webui embeds the minimal question-renderer bundle served at
// GET / for each session. Real browser UIs are out of scope for this
// service (see spec §1); this bundle exists only so a session is usable
// without a separate frontend build step.
package webui

import _ "embed"

//go:embed index.html
var IndexHTML []byte
